package rcv

import (
	"encoding/json"
	"html/template"
	"io"
	"net/http"
)

const statusTmplStr = `<!DOCTYPE html>
<html>
<head>
<title>gnssrx</title>
<meta http-equiv="refresh" content="1">
<style>
table, th, td {
  border: 1px solid black;
  text-align: right;
}
</style>
</head>
<body>
<h1>receiver status</h1>
<ul>
<li>Receiver time: {{printf "%.3f" .Time}}s</li>
<li>Channels locked: {{.Locked}}</li>
<li>Buffer overruns: {{.BuffFull}}</li>
</ul>
<table>
<tr><th>CH</th><th>SAT</th><th>SIG</th><th>PRN</th><th>STATE</th>
<th>LOCK(s)</th><th>C/N0</th><th>COFF(ms)</th><th>DOP(Hz)</th>
<th>ADR(cyc)</th><th>NAV</th><th>ERR</th><th>LOST</th></tr>
{{range $_, $c := .Channels}}
<tr>
<td>{{$c.Ch}}</td>
<td>{{$c.Sat}}</td>
<td>{{$c.Sig}}</td>
<td>{{$c.PRN}}</td>
<td>{{$c.State}}</td>
<td>{{printf "%.1f" $c.LockSec}}</td>
<td>{{printf "%.1f" $c.CN0}}</td>
<td>{{printf "%.5f" $c.CodeOffMS}}</td>
<td>{{printf "%.1f" $c.Doppler}}</td>
<td>{{printf "%.1f" $c.ADR}}</td>
<td>{{$c.NavOK}}</td>
<td>{{$c.NavErr}}</td>
<td>{{$c.Lost}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`

type webHandler struct {
	r    *Receiver
	tmpl *template.Template
}

// ServeHTTP answers "/" with an auto-refreshing status table and
// "/api/status" with the same snapshot as JSON.
func (h *webHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s := h.r.Status()
	if r.URL.Path == "/api/status" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
		return
	}
	if err := h.tmpl.Execute(w, s); err != nil {
		io.WriteString(w, err.Error())
	}
}

// CodeOffMS formats the code offset in milliseconds for the web table.
func (cs ChannelStatus) CodeOffMS() float64 { return cs.CodeOff * 1e3 }

// Handler returns the receiver's web status handler.
func (r *Receiver) Handler() http.Handler {
	return &webHandler{
		r:    r,
		tmpl: template.Must(template.New("status").Parse(statusTmplStr)),
	}
}

// ServeStatus serves the status page on addr until the listener fails.
func ServeStatus(r *Receiver, addr string) error {
	return http.ListenAndServe(addr, r.Handler())
}
