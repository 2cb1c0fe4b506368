// Package gnss describes GNSS signals and generates their ranging codes.
package gnss

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownSignal = errors.New("unknown signal type")
var ErrBadPRN = errors.New("prn out of range")

// Signal is a GNSS signal type. GLONASS FDMA signals use the frequency
// channel number (FCN, -7..6) in place of a PRN.
type Signal string

const (
	L1CA Signal = "L1CA" // GPS L1 C/A
	G1CA Signal = "G1CA" // GLONASS L1OF C/A
	G2CA Signal = "G2CA" // GLONASS L2OF C/A
)

func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.ToUpper(s))
	switch sig {
	case L1CA, G1CA, G2CA:
		return sig, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSignal, s)
}

// FDMA reports whether prn is interpreted as a GLONASS FCN.
func (s Signal) FDMA() bool { return s == G1CA || s == G2CA }

// CodePeriod returns the primary code cycle in seconds.
func (s Signal) CodePeriod() float64 {
	switch s {
	case L1CA, G1CA, G2CA:
		return 1e-3
	}
	return 0
}

// ChipRate returns the code chipping rate in chips/s.
func (s Signal) ChipRate() float64 {
	switch s {
	case L1CA:
		return 1.023e6
	case G1CA, G2CA:
		return 0.511e6
	}
	return 0
}

// CarrierFreq returns the signal carrier frequency in Hz. For FDMA
// signals the frequency depends on the FCN.
func (s Signal) CarrierFreq(prn int) float64 {
	switch s {
	case L1CA:
		return 1575.42e6
	case G1CA:
		return 1602.0e6 + float64(prn)*562.5e3
	case G2CA:
		return 1246.0e6 + float64(prn)*437.5e3
	}
	return 0
}

// ShiftFreq returns the IF frequency fi shifted by the signal's FDMA
// channel offset. Non-FDMA signals pass fi through.
func (s Signal) ShiftFreq(prn int, fi float64) float64 {
	switch s {
	case G1CA:
		return fi + float64(prn)*562.5e3
	case G2CA:
		return fi + float64(prn)*437.5e3
	}
	return fi
}

// SatID returns the satellite identity for a (signal, PRN) pair. Signals
// of the same satellite on different carriers share the identity; the
// assisted-acquisition policy keys on this.
func SatID(sig Signal, prn int) string {
	if sig.FDMA() {
		return fmt.Sprintf("R%+03d", prn)
	}
	return fmt.Sprintf("G%02d", prn)
}

func validPRN(sig Signal, prn int) bool {
	if sig.FDMA() {
		return prn >= -7 && prn <= 6
	}
	return prn >= 1 && prn <= 210
}
