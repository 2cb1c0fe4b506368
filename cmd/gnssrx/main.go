package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chzchzchz/gnssrx/acq"
	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/radio"
	"github.com/chzchzchz/gnssrx/rcv"
)

var rootCmd = &cobra.Command{
	Use:   "gnssrx",
	Short: "A GNSS software receiver front end.",
}

var (
	confPath  string
	sigSpecs  []string
	rtltcp    string
	webAddr   string
	logPath   string
	quiet     bool
	fsStr     string
	fiStr     string
	fmtStr    string
	tAcq      float64
	maxDop    float64
	plotFile  string
	statusCyc time.Duration
	rtlGain   int
	rtlPPM    uint
	rtlAGC    bool
)

func init() {
	trkCmd := &cobra.Command{
		Use:   "trk [iqfile]",
		Short: "Run signal search and tracking over an IF stream",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			inf := "-"
			if len(args) > 0 {
				inf = args[0]
			}
			track(inf)
		},
	}
	trkCmd.Flags().StringVarP(&confPath, "conf", "c", "", "Receiver config file")
	trkCmd.Flags().StringArrayVarP(&sigSpecs, "sig", "s", nil, "Channel spec SIG:PRNS, e.g. L1CA:1-32")
	trkCmd.Flags().StringVar(&rtltcp, "rtltcp", "", "Read live IF data from an rtl_tcp server (host:port)")
	trkCmd.Flags().IntVar(&rtlGain, "gain", -1, "rtl_tcp tuner gain in tenths of dB, -1 for tuner AGC")
	trkCmd.Flags().UintVar(&rtlPPM, "ppm", 0, "rtl_tcp frequency correction in ppm")
	trkCmd.Flags().BoolVar(&rtlAGC, "agc", false, "Enable RTL AGC on the rtl_tcp server")
	trkCmd.Flags().StringVarP(&webAddr, "web", "w", "", "Serve the status page on this address")
	trkCmd.Flags().StringVarP(&logPath, "log", "l", "", "Append receiver log records to this file")
	trkCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the status table")
	trkCmd.Flags().DurationVar(&statusCyc, "status-cycle", time.Second, "Status table refresh interval")
	rootCmd.AddCommand(trkCmd)

	acqCmd := &cobra.Command{
		Use:   "acq iqfile",
		Short: "One-shot signal search over an IF capture",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { acquire(args[0]) },
	}
	acqCmd.Flags().StringArrayVarP(&sigSpecs, "sig", "s", nil, "Channel spec SIG:PRNS, e.g. L1CA:1-32")
	acqCmd.Flags().StringVar(&fsStr, "fs", "12M", "Sampling rate in Hz")
	acqCmd.Flags().StringVar(&fiStr, "fi", "3M", "IF frequency in Hz")
	acqCmd.Flags().StringVar(&fmtStr, "fmt", "int8iq", "IF data format")
	acqCmd.Flags().Float64Var(&tAcq, "tacq", 0.01, "Non-coherent integration time in s")
	acqCmd.Flags().Float64Var(&maxDop, "max-dop", 5000, "Doppler sweep half-range in Hz")
	acqCmd.Flags().StringVar(&plotFile, "plot", "", "Write the strongest power map as a JPEG")
	rootCmd.AddCommand(acqCmd)
}

func track(inf string) {
	cfg, err := loadConfig(confPath)
	if err != nil {
		panic(err)
	}
	rc, err := cfg.rcvConfig(sigSpecs)
	if err != nil {
		panic(err)
	}

	var src radio.Source
	if rtltcp != "" {
		fs, err := freqHz(cfg.Input.Fs)
		if err != nil {
			panic(err)
		}
		s, err := radio.DialRTLTCP(rtltcp, uint32(gnss.L1CA.CarrierFreq(1)), uint32(fs))
		if err != nil {
			panic(err)
		}
		if err := tuneRTLTCP(s); err != nil {
			panic(err)
		}
		src, rc.Format = s, radio.FormatUint8IQ
	} else if src, err = radio.NewFileSource(inf); err != nil {
		panic(err)
	}
	defer src.Close()

	logw := io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		logw = f
	} else if quiet {
		logw = os.Stderr
	}
	rc.Log = log.New(logw, "", 0)

	r, err := rcv.New(src, rc)
	if err != nil {
		panic(err)
	}
	if webAddr != "" {
		go func() {
			if err := rcv.ServeStatus(r, webAddr); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !quiet {
		go statusLoop(ctx, r)
	}
	if err := r.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
	if !quiet {
		printStatus(r.Status(), false)
	}
}

// tuneRTLTCP applies the tuner flags to a freshly dialed server.
func tuneRTLTCP(s *radio.RTLTCPSource) error {
	if rtlGain >= 0 {
		if err := s.SetGainMode(false); err != nil {
			return err
		}
		if err := s.SetGain(uint32(rtlGain)); err != nil {
			return err
		}
	} else if err := s.SetGainMode(true); err != nil {
		return err
	}
	if rtlPPM != 0 {
		if err := s.SetFreqCorrection(uint32(rtlPPM)); err != nil {
			return err
		}
	}
	if rtlAGC {
		if err := s.SetAGCMode(true); err != nil {
			return err
		}
	}
	return nil
}

func statusLoop(ctx context.Context, r *rcv.Receiver) {
	t := time.NewTicker(statusCyc)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			printStatus(r.Status(), true)
		}
	}
}

func cn0Bar(cn0 float64) string {
	n := int((cn0 - 30.0) / 1.5)
	if n < 0 {
		n = 0
	} else if n > 13 {
		n = 13
	}
	bar := ""
	for i := 0; i < n; i++ {
		bar += "|"
	}
	return bar
}

func printStatus(s rcv.Status, clear bool) {
	if clear {
		fmt.Print("\x1b[H\x1b[2J")
	}
	fmt.Printf("TIME(s): %10.2f  LOCK: %3d  SRCH: %3d  BUFF FULL: %6d\n",
		s.Time, s.Locked, s.Search, s.BuffFull)
	fmt.Printf("%3s %5s %5s %4s %5s %9s %5s %-13s %12s %10s %5s %4s\n",
		"CH", "SAT", "SIG", "PRN", "STATE", "LOCK(s)", "C/N0", "(dB-Hz)",
		"COFF(ms)", "DOP(Hz)", "NAV", "LOST")
	for _, c := range s.Channels {
		if c.State != "LOCK" {
			continue
		}
		fmt.Printf("%3d %5s %5s %4d %5s %9.2f %5.1f %-13s %12.7f %10.1f %5d %4d\n",
			c.Ch, c.Sat, c.Sig, c.PRN, c.State, c.LockSec, c.CN0,
			cn0Bar(c.CN0), c.CodeOff*1e3, c.Doppler, c.NavOK, c.Lost)
	}
}

// acquire runs a one-shot parallel code search per channel spec over
// the head of an IF capture and prints the strongest result per signal.
func acquire(inf string) {
	chs, err := parseChannels(sigSpecs)
	if err != nil {
		panic(err)
	}
	if len(chs) == 0 {
		panic("need at least one --sig channel spec")
	}
	fs, err := freqHz(fsStr)
	if err != nil {
		panic(err)
	}
	fi, err := freqHz(fiStr)
	if err != nil {
		panic(err)
	}
	format, err := radio.ParseFormat(fmtStr)
	if err != nil {
		panic(err)
	}

	src, err := radio.NewFileSource(inf)
	if err != nil {
		panic(err)
	}
	defer src.Close()
	dec := radio.NewDecoder(format, nil)
	n := int(fs * 1e-3)
	nblk := int(tAcq/1e-3) + 1
	raw := make([]byte, dec.BlockBytes(n))
	nrf := dec.RFChannels()
	buffs := make([][]complex64, nrf)
	for i := range buffs {
		buffs[i] = make([]complex64, n*(nblk+1))
	}
	out := make([][]complex64, nrf)
	for i := 0; i <= nblk; i++ {
		for j := range out {
			out[j] = buffs[j][i*n : (i+1)*n]
		}
		if err := src.ReadBlock(raw); err != nil {
			panic(err)
		}
		dec.Decode(raw, out)
	}

	fmt.Printf("%5s %4s %9s %10s %12s\n", "SIG", "PRN", "C/N0", "DOP(Hz)", "COFF(ms)")
	best, bestCN0 := ([][]float64)(nil), 0.0
	for _, cs := range chs {
		s, err := acq.New(cs.Sig, cs.PRN, fs, fi, 0, maxDop)
		if err != nil {
			panic(err)
		}
		buff := buffs[0]
		if nrf > 1 && cs.Sig.CarrierFreq(cs.PRN) < 1.5e9 {
			buff = buffs[1]
		}
		for off := 0; off+2*s.N <= len(buff) && s.Integrated() < tAcq; off += s.N {
			if err := s.Add(buff[off:]); err != nil {
				panic(err)
			}
		}
		pm := s.PowerMap()
		res, err := s.Peak()
		if err != nil {
			panic(err)
		}
		if res.CN0 > bestCN0 {
			best, bestCN0 = pm, res.CN0
		}
		mark := ""
		if res.CN0 >= rcv.ThresLock {
			mark = " *"
		}
		fmt.Printf("%5s %4d %9.1f %10.1f %12.7f%s\n",
			cs.Sig, cs.PRN, res.CN0, res.Doppler, res.CodeOff*1e3, mark)
	}
	if plotFile != "" && best != nil {
		if err := acq.WritePowerMapFile(plotFile, best); err != nil {
			panic(err)
		}
	}
}

func main() {
	rootCmd.Execute()
}
