// Package trk implements the code/carrier tracking update applied to a
// receiver channel after acquisition: standard E/P/L/N correlators, an
// FLL for frequency pull-in handing over to a PLL, a first-order DLL and
// C/N0 smoothing.
package trk

import (
	"math"

	"github.com/chzchzchz/gnssrx/acq"
	"github.com/chzchzchz/gnssrx/gnss"
)

const (
	tDLL     = 0.010 // non-coherent integration time for DLL (s)
	tCN0     = 1.0   // averaging time for C/N0 (s)
	tFPullin = 1.0   // frequency pull-in time (s)
	bDLL     = 0.5   // DLL filter bandwidth (Hz)
	bPLL     = 10.0  // PLL filter bandwidth (Hz)
	bFLLWide = 10.0  // FLL bandwidth, pull-in (Hz)
	bFLLNarr = 2.0   // FLL bandwidth, settled (Hz)
	spCorr   = 0.5   // correlator spacing (chip)
	posNoise = -80   // noise correlator offset (samples)

	// ThresUnlock is the C/N0 (dB-Hz) below which lock is declared lost.
	ThresUnlock = 35.0
)

// Tracker holds the tracking loop state of one receiver channel. It is
// owned exclusively by the channel; Update must be called once per code
// period with a window of two code periods of IF samples.
type Tracker struct {
	sig gnss.Signal
	prn int
	fs  float64 // sampling rate (Hz)
	fi  float64 // IF frequency incl. FDMA shift (Hz)
	fc  float64 // carrier frequency (Hz)
	T   float64 // code period (s)
	N   int     // samples per code period

	code []float32 // code replica resampled to N samples
	pos  [4]int    // correlator offsets {P, E, L, N} (samples)
	corr [4]complex128

	time float64 // receiver time of last update (s)
	fd   float64 // Doppler (Hz)
	coff float64 // code offset (s)
	adr  float64 // accumulated Doppler (cyc)
	cn0  float64 // smoothed C/N0 (dB-Hz)
	lock int     // lock count (code periods)

	errPhas    float64    // last PLL phase error (cyc)
	prevP      complex128 // previous P correlator output (FLL)
	sumE, sumL float64
	sumP, sumN float64

	mixed []complex64
}

// New builds a tracker for (sig, prn) sampled at fs with IF frequency fi
// (before FDMA shift).
func New(sig gnss.Signal, prn int, fs, fi float64) (*Tracker, error) {
	code, err := gnss.GenCode(sig, prn)
	if err != nil {
		return nil, err
	}
	T := sig.CodePeriod()
	N := int(fs * T)
	t := &Tracker{
		sig:  sig,
		prn:  prn,
		fs:   fs,
		fi:   sig.ShiftFreq(prn, fi),
		fc:   sig.CarrierFreq(prn),
		T:    T,
		N:    N,
		code: make([]float32, N),
	}
	gnss.ResCode(code, T, 0.0, fs, N, t.code)
	pos := int(spCorr*T/float64(len(code))*fs) + 1
	t.pos = [4]int{0, -pos, pos, posNoise}
	t.mixed = make([]complex64, N)
	return t, nil
}

// Restart primes the loops from an acquisition result and zeroes the
// accumulated state.
func (t *Tracker) Restart(time, doppler, codeOff, cn0 float64) {
	t.time = time
	t.fd = doppler
	t.coff = codeOff
	t.adr = 0.0
	t.cn0 = cn0
	t.lock = 0
	t.errPhas = 0.0
	t.prevP = 0
	t.sumE, t.sumL, t.sumP, t.sumN = 0, 0, 0, 0
	t.corr = [4]complex128{}
}

// Update runs one tracking step over a window of two code periods ending
// at receiver time time (s). It reports whether the channel is still
// locked.
func (t *Tracker) Update(time float64, buff []complex64) bool {
	if len(buff) < 2*t.N {
		return false
	}
	tau := time - t.time
	fc := t.fi + t.fd
	t.adr += t.fd * tau
	t.coff -= t.fd / t.fc * tau // carrier-aided code offset
	t.time = time

	i := int(t.coff*t.fs+0.5) % t.N
	if i < 0 {
		i += t.N
	}
	phi := t.fi*tau + t.adr + fc*float64(i)/t.fs

	acq.MixCarr(buff[i:i+t.N], t.fs, fc, phi, t.mixed)
	for k, p := range t.pos {
		t.corr[k] = corrShift(t.mixed, t.code, p)
	}
	t.lock++

	if float64(t.lock)*t.T <= tFPullin {
		t.fll()
	} else {
		t.pll()
	}
	t.dll()
	t.updateCN0()

	return t.cn0 >= ThresUnlock
}

// corrShift correlates complex data against the real code shifted by pos
// samples, normalized by the overlap length.
func corrShift(data []complex64, code []float32, pos int) complex128 {
	n := len(data)
	var ix, cx int
	switch {
	case pos > 0:
		ix, n = pos, n-pos
	case pos < 0:
		cx, n = -pos, n+pos
	}
	var re, im float64
	for k := 0; k < n; k++ {
		c := float64(code[cx+k])
		re += float64(real(data[ix+k])) * c
		im += float64(imag(data[ix+k])) * c
	}
	s := 1.0 / float64(n)
	return complex(re*s, im*s)
}

func (t *Tracker) fll() {
	defer func() { t.prevP = t.corr[0] }()
	if t.lock < 2 {
		return
	}
	p1, p2 := t.corr[0], t.prevP
	dot := real(p1)*real(p2) + imag(p1)*imag(p2)
	cross := real(p1)*imag(p2) - imag(p1)*real(p2)
	if dot == 0.0 {
		return
	}
	b := bFLLNarr
	if float64(t.lock)*t.T < tFPullin/2 {
		b = bFLLWide
	}
	t.fd -= b / 0.25 * math.Atan(cross/dot) / (2.0 * math.Pi)
}

func (t *Tracker) pll() {
	ip, qp := real(t.corr[0]), imag(t.corr[0])
	if ip == 0.0 {
		return
	}
	errPhas := math.Atan(qp/ip) / (2.0 * math.Pi)
	w := bPLL / 0.53
	t.fd += 1.4*w*(errPhas-t.errPhas) + w*w*errPhas*t.T
	t.errPhas = errPhas
}

func (t *Tracker) dll() {
	n := int(tDLL / t.T)
	if n < 1 {
		n = 1
	}
	t.sumE += cmplxAbs(t.corr[1])
	t.sumL += cmplxAbs(t.corr[2])
	if t.lock%n != 0 {
		return
	}
	e, l := t.sumE, t.sumL
	if e+l > 0 {
		errCode := (e - l) / (e + l) / 2.0 * t.T / float64(len(t.code))
		t.coff -= bDLL / 0.25 * errCode * t.T * float64(n)
	}
	t.sumE, t.sumL = 0, 0
}

func (t *Tracker) updateCN0() {
	t.sumP += real(t.corr[0])*real(t.corr[0]) + imag(t.corr[0])*imag(t.corr[0])
	t.sumN += real(t.corr[3])*real(t.corr[3]) + imag(t.corr[3])*imag(t.corr[3])
	if t.lock%int(tCN0/t.T) != 0 {
		return
	}
	if t.sumN > 0.0 {
		cn0 := 10.0 * math.Log10(t.sumP/t.sumN/t.T)
		t.cn0 += 0.5 * (cn0 - t.cn0)
	}
	t.sumP, t.sumN = 0, 0
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// CN0 returns the smoothed carrier-to-noise density (dB-Hz).
func (t *Tracker) CN0() float64 { return t.cn0 }

// Doppler returns the current Doppler estimate (Hz).
func (t *Tracker) Doppler() float64 { return t.fd }

// CodeOffset returns the current code offset (s).
func (t *Tracker) CodeOffset() float64 { return t.coff }

// ADR returns the accumulated Doppler range (cycles).
func (t *Tracker) ADR() float64 { return t.adr }

// NavCounts returns decoded navigation data and error counters.
// Navigation-message decoding is layered on top of the tracker and not
// implemented here, so both stay zero.
func (t *Tracker) NavCounts() (ok, errs int) { return 0, 0 }
