package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/radio"
	"github.com/chzchzchz/gnssrx/rcv"
)

var errBadChannelSpec = errors.New("bad channel spec; want SIG:PRN[,PRN|LO..HI]")

type config struct {
	Input struct {
		Format    string
		Fs        string
		Fi        string
		Fi2       string
		Sampling  int
		Sampling2 int
	}
	Search struct {
		RefDop float64
		MaxDop float64
		TAcq   float64
	}
	Buffer struct {
		Blocks int
	}
	Signals struct {
		List string
	}
}

func defaultConfig() config {
	var c config
	c.Input.Format = "int8iq"
	c.Input.Fs = "12M"
	c.Input.Fi = "3M"
	c.Input.Fi2 = "0"
	c.Input.Sampling = int(radio.SampleIQ)
	c.Input.Sampling2 = int(radio.SampleIQ)
	return c
}

func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return &cfg, nil
	}
	if err := ini.MapToWithMapper(&cfg, ini.TitleUnderscore, path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// freqHz parses a frequency with an optional K/M suffix, e.g. "12M".
func freqHz(s string) (float64, error) {
	val := strings.ToUpper(strings.TrimSpace(s))
	mult := 1.0
	switch {
	case strings.HasSuffix(val, "K"):
		val, mult = strings.TrimSuffix(val, "K"), 1e3
	case strings.HasSuffix(val, "M"):
		val, mult = strings.TrimSuffix(val, "M"), 1e6
	}
	f, err := strconv.ParseFloat(val, 64)
	return f * mult, err
}

// parseChannels expands channel specs like "L1CA:1-32" or "G1CA:-7..6"
// or "L1CA:3,7,12" into (signal, PRN) pairs.
func parseChannels(specs []string) ([]rcv.ChannelSpec, error) {
	var out []rcv.ChannelSpec
	for _, spec := range specs {
		sigStr, prnStr, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", errBadChannelSpec, spec)
		}
		sig, err := gnss.ParseSignal(sigStr)
		if err != nil {
			return nil, err
		}
		for _, tok := range strings.Split(prnStr, ",") {
			lo, hi, err := parsePRNRange(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", errBadChannelSpec, spec)
			}
			for prn := lo; prn <= hi; prn++ {
				out = append(out, rcv.ChannelSpec{Sig: sig, PRN: prn})
			}
		}
	}
	return out, nil
}

func parsePRNRange(tok string) (int, int, error) {
	if loStr, hiStr, ok := strings.Cut(tok, ".."); ok {
		lo, err := strconv.Atoi(loStr)
		if err != nil {
			return 0, 0, err
		}
		hi, err := strconv.Atoi(hiStr)
		return lo, hi, err
	}
	// "a-b" ranges work for positive PRNs; FCNs use "lo..hi".
	if ix := strings.Index(tok[1:], "-"); ix >= 0 {
		lo, err := strconv.Atoi(tok[:ix+1])
		if err != nil {
			return 0, 0, err
		}
		hi, err := strconv.Atoi(tok[ix+2:])
		return lo, hi, err
	}
	n, err := strconv.Atoi(tok)
	return n, n, err
}

// rcvConfig assembles the receiver configuration from the config file
// overlaid with any command line channel specs.
func (c *config) rcvConfig(sigSpecs []string) (rcv.Config, error) {
	var rc rcv.Config
	format, err := radio.ParseFormat(c.Input.Format)
	if err != nil {
		return rc, err
	}
	fs, err := freqHz(c.Input.Fs)
	if err != nil {
		return rc, err
	}
	fi, err := freqHz(c.Input.Fi)
	if err != nil {
		return rc, err
	}
	fi2, err := freqHz(c.Input.Fi2)
	if err != nil {
		return rc, err
	}
	if len(sigSpecs) == 0 && c.Signals.List != "" {
		sigSpecs = strings.Fields(c.Signals.List)
	}
	chs, err := parseChannels(sigSpecs)
	if err != nil {
		return rc, err
	}
	rc = rcv.Config{
		Signals:    chs,
		Fs:         fs,
		Fi:         [2]float64{fi, fi2},
		Format:     format,
		Sampling:   []radio.Sampling{radio.Sampling(c.Input.Sampling), radio.Sampling(c.Input.Sampling2)},
		RefDop:     c.Search.RefDop,
		MaxDop:     c.Search.MaxDop,
		TAcq:       c.Search.TAcq,
		BuffBlocks: c.Buffer.Blocks,
	}
	return rc, nil
}
