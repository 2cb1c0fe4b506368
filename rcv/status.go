package rcv

// ChannelStatus is a point-in-time snapshot of one channel.
type ChannelStatus struct {
	Ch       int     `json:"ch"`
	Sat      string  `json:"sat"`
	Sig      string  `json:"sig"`
	PRN      int     `json:"prn"`
	State    string  `json:"state"`
	Time     float64 `json:"time"`    // receiver time of last update (s)
	LockSec  float64 `json:"lock"`    // time in lock (s)
	CN0      float64 `json:"cn0"`     // dB-Hz
	CodeOff  float64 `json:"coff"`    // code offset (s)
	Doppler  float64 `json:"dop"`     // Hz
	ADR      float64 `json:"adr"`     // accumulated Doppler (cyc)
	NavOK    int     `json:"nav_ok"`  // decoded subframes/strings
	NavErr   int     `json:"nav_err"` // parity failures
	Lost     int     `json:"lost"`    // lock losses
	BlockLag int64   `json:"lag"`     // blocks behind the write cursor
}

// Status is a snapshot of the whole receiver.
type Status struct {
	Time     float64         `json:"time"`      // receiver time (s)
	Search   int             `json:"search"`    // channel in the search slot, 0 if none
	Locked   int             `json:"locked"`    // channels in LOCK
	BuffFull int64           `json:"buff_full"` // live overrun cycles
	Channels []ChannelStatus `json:"channels"`
}

// Status snapshots every channel; safe to call while Run is active.
func (r *Receiver) Status() Status {
	wix := r.wix.Load()
	s := Status{
		Time:     float64(wix+1) * baseCyc,
		BuffFull: r.buffFull.Load(),
	}
	for _, ch := range r.chs {
		cs := ch.status(wix)
		switch cs.State {
		case StateSearch.String():
			s.Search = cs.Ch
		case StateLock.String():
			s.Locked++
		}
		s.Channels = append(s.Channels, cs)
	}
	return s
}
