// Package acq implements FFT-based parallel code-phase/Doppler search
// for GNSS signal acquisition.
package acq

import (
	"errors"
	"fmt"
	"math"

	"github.com/runningwild/go-fftw/fftw32"
	"gonum.org/v1/gonum/stat"

	"github.com/chzchzchz/gnssrx/gnss"
)

var ErrShortWindow = errors.New("sample window shorter than two code periods")
var ErrNoPower = errors.New("no accumulated correlation power")

// carrTbl is the 256-entry carrier lookup table, immutable after init.
const carrN = 256

var carrTbl [carrN]complex64

func init() {
	for i := 0; i < carrN; i++ {
		s, c := math.Sincos(-2.0 * math.Pi * float64(i) / carrN)
		carrTbl[i] = complex(float32(c), float32(s))
	}
}

// MixCarr mixes data down by carrier frequency fc (Hz) at sampling rate
// fs with initial phase phi (cycles).
func MixCarr(data []complex64, fs, fc, phi float64, out []complex64) {
	step := fc / fs * carrN
	p := math.Mod(phi, 1.0) * carrN
	for i := range data {
		out[i] = data[i] * carrTbl[int(p)&(carrN-1)]
		p += step
		if p >= carrN {
			p -= carrN
		} else if p < 0 {
			p += carrN
		}
	}
}

// DopBins returns candidate Doppler frequencies over the closed interval
// [ref-max, ref+max]. The spacing 1/(2T) bounds the worst-case coherent
// integration loss from bin straddle.
func DopBins(T, ref, max float64) []float64 {
	step := 0.5 / T
	var fds []float64
	for f := -max; f <= max+step*1e-9; f += step {
		fds = append(fds, ref+f)
	}
	return fds
}

// Result is the outcome of one acquisition attempt.
type Result struct {
	Doppler float64 // estimated Doppler (Hz)
	CodeOff float64 // code phase offset (s)
	CN0     float64 // carrier-to-noise density (dB-Hz)
}

// Search accumulates non-coherent correlation power for one acquisition
// attempt of a single (signal, PRN) pair. The power map lives only for
// the duration of an attempt; Peak discards it.
type Search struct {
	Sig gnss.Signal
	PRN int

	T  float64 // coherent integration = one code period (s)
	N  int     // samples per code period
	fs float64
	fi float64 // IF frequency incl. FDMA shift (Hz)

	refDop   float64
	halfRng  float64
	blindRef float64
	fullRng  float64

	codeFFT   *fftw32.Array // conj DFT of zero-padded code replica (2N)
	sampsChip float64

	fds  []float64
	psum []float64 // len(fds) * N power map
	nsum int
}

// New builds the search state for (sig, prn) sampled at fs with IF
// frequency fi (before FDMA shift). The blind sweep covers
// [refDop-maxDop, refDop+maxDop].
func New(sig gnss.Signal, prn int, fs, fi, refDop, maxDop float64) (*Search, error) {
	code, err := gnss.GenCode(sig, prn)
	if err != nil {
		return nil, err
	}
	T := sig.CodePeriod()
	N := int(fs * T)
	if N < len(code) {
		return nil, fmt.Errorf("sampling rate %.0f under chip rate of %s", fs, sig)
	}
	s := &Search{
		Sig:       sig,
		PRN:       prn,
		T:         T,
		N:         N,
		fs:        fs,
		fi:        sig.ShiftFreq(prn, fi),
		refDop:    refDop,
		blindRef:  refDop,
		fullRng:   maxDop,
		halfRng:   maxDop,
		sampsChip: float64(N) / float64(len(code)),
	}
	// One code period resampled and zero-padded to 2N so circular
	// correlation cannot wrap into the next period.
	replica := make([]float32, 2*N)
	gnss.ResCode(code, T, 0.0, fs, N, replica)
	arr := fftw32.NewArray(2 * N)
	for i, v := range replica {
		arr.Elems[i] = complex(v, 0)
	}
	s.codeFFT = fftw32.FFT(arr)
	for i, v := range s.codeFFT.Elems {
		s.codeFFT.Elems[i] = complex(real(v), -imag(v))
	}
	s.fds = DopBins(T, refDop, maxDop)
	return s, nil
}

// SetRef narrows the sweep to halfRange around a reference Doppler;
// used for re-acquisition and assisted acquisition.
func (s *Search) SetRef(dop, halfRange float64) {
	s.refDop, s.halfRng = dop, halfRange
	s.fds = DopBins(s.T, dop, halfRange)
	s.Reset()
}

// SetBlind restores the full blind Doppler sweep.
func (s *Search) SetBlind() {
	s.refDop, s.halfRng = s.blindRef, s.fullRng
	s.fds = DopBins(s.T, s.blindRef, s.fullRng)
	s.Reset()
}

// HalfRange returns the current sweep half-range (Hz).
func (s *Search) HalfRange() float64 { return s.halfRng }

// Bins returns the current Doppler bin set.
func (s *Search) Bins() []float64 { return s.fds }

// Reset discards accumulated power, ending the current attempt.
func (s *Search) Reset() {
	s.psum = nil
	s.nsum = 0
}

// Integrated returns the accumulated non-coherent integration time (s).
func (s *Search) Integrated() float64 { return float64(s.nsum) * s.T }

// Add accumulates correlation power over one window of at least two code
// periods: for every Doppler bin the window is mixed down and circularly
// correlated against the code replica via FFT, and the squared magnitude
// summed into the power map.
func (s *Search) Add(buff []complex64) error {
	M := 2 * s.N
	if len(buff) < M {
		return fmt.Errorf("%w: %d < %d", ErrShortWindow, len(buff), M)
	}
	if s.psum == nil {
		s.psum = make([]float64, len(s.fds)*s.N)
	}
	data := fftw32.NewArray(M)
	scale := 1.0 / float64(M) / float64(M)
	for i, fd := range s.fds {
		MixCarr(buff[:M], s.fs, s.fi+fd, 0.0, data.Elems)
		spec := fftw32.FFT(data)
		for j, v := range spec.Elems {
			spec.Elems[j] = v * s.codeFFT.Elems[j]
		}
		corr := fftw32.IFFT(spec)
		row := s.psum[i*s.N:]
		for j := 0; j < s.N; j++ {
			c := corr.Elems[j]
			row[j] += (float64(real(c))*float64(real(c)) +
				float64(imag(c))*float64(imag(c))) * scale
		}
	}
	s.nsum++
	return nil
}

// Peak locates the power-map maximum and derives the fine Doppler, code
// offset and C/N0 estimates. The accumulated map is discarded.
func (s *Search) Peak() (Result, error) {
	if s.nsum == 0 {
		return Result{}, ErrNoPower
	}
	maxP, maxIx := s.psum[0], 0
	for i, p := range s.psum {
		if p > maxP {
			maxP, maxIx = p, i
		}
	}
	iDop, iCode := maxIx/s.N, maxIx%s.N

	// Noise floor: mean power of the peak Doppler row, excluding two
	// chips either side of the peak.
	ex := int(2.0 * s.sampsChip)
	row := s.psum[iDop*s.N : (iDop+1)*s.N]
	noise := make([]float64, 0, s.N)
	for j, p := range row {
		d := j - iCode
		if d < 0 {
			d = -d
		}
		if d > s.N/2 {
			d = s.N - d
		}
		if d > ex {
			noise = append(noise, p)
		}
	}
	cn0 := 0.0
	if m := stat.Mean(noise, nil); m > 0 {
		cn0 = 10.0 * math.Log10(maxP/m/s.T)
	}
	res := Result{
		Doppler: s.fineDop(iDop, iCode),
		CodeOff: float64(iCode) / s.fs,
		CN0:     cn0,
	}
	s.Reset()
	return res, nil
}

// fineDop interpolates the Doppler estimate below the bin spacing by
// fitting a parabola through the peak and its neighbors.
func (s *Search) fineDop(iDop, iCode int) float64 {
	if iDop == 0 || iDop == len(s.fds)-1 {
		return s.fds[iDop]
	}
	pm := s.psum[(iDop-1)*s.N+iCode]
	p0 := s.psum[iDop*s.N+iCode]
	pp := s.psum[(iDop+1)*s.N+iCode]
	den := pm - 2.0*p0 + pp
	if den == 0 {
		return s.fds[iDop]
	}
	step := s.fds[1] - s.fds[0]
	return s.fds[iDop] + 0.5*step*(pm-pp)/den
}

// PowerMap copies the accumulated map as [doppler bin][code sample],
// normalized to the global peak.
func (s *Search) PowerMap() [][]float64 {
	if s.psum == nil {
		return nil
	}
	maxP := 0.0
	for _, p := range s.psum {
		if p > maxP {
			maxP = p
		}
	}
	if maxP == 0 {
		maxP = 1
	}
	rows := make([][]float64, len(s.fds))
	for i := range rows {
		rows[i] = make([]float64, s.N)
		for j := range rows[i] {
			rows[i][j] = s.psum[i*s.N+j] / maxP
		}
	}
	return rows
}
