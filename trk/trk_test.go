package trk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chzchzchz/gnssrx/gnss"
)

// genStream synthesizes a coherent IF stream of (sig, prn) with Doppler
// dop and initial delay coff0. The code delay drifts with the carrier
// (range rate and Doppler agree), matching what carrier aiding expects.
func genStream(t *testing.T, sig gnss.Signal, prn int, fs, dop, coff0, amp, sigma float64, n int, rng *rand.Rand) []complex64 {
	t.Helper()
	code, err := gnss.GenCode(sig, prn)
	require.NoError(t, err)
	T := sig.CodePeriod()
	tc := T / float64(len(code))
	fc := sig.CarrierFreq(prn)
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		ts := float64(i) / fs
		delay := coff0 - dop/fc*ts
		j := int(math.Mod(math.Mod(ts-delay, T)+T, T) / tc)
		s, c := math.Sincos(2.0 * math.Pi * dop * ts)
		a := amp * float64(code[j])
		out[i] = complex(
			float32(a*c+rng.NormFloat64()*sigma),
			float32(a*s+rng.NormFloat64()*sigma))
	}
	return out
}

func TestTrackerHoldsLock(t *testing.T) {
	const (
		fs    = 2.046e6
		dop   = 800.0
		coff0 = 150.0 / fs
		nwin  = 1500
	)
	rng := rand.New(rand.NewSource(1))
	tr, err := New(gnss.L1CA, 9, fs, 0.0)
	require.NoError(t, err)

	stream := genStream(t, gnss.L1CA, 9, fs, dop, coff0, 1.0, 0.3, (nwin+2)*tr.N, rng)
	// prime with the acquisition handoff slightly off in Doppler
	tr.Restart(0.0, dop+50.0, coff0, 45.0)

	for m := 1; m <= nwin; m++ {
		w := stream[m*tr.N : (m+2)*tr.N]
		require.True(t, tr.Update(float64(m)*1e-3, w), "lost lock at %d", m)
	}

	tEnd := float64(nwin) * 1e-3
	assert.Greater(t, tr.CN0(), 38.0)
	assert.InDelta(t, dop, tr.Doppler(), 20.0)
	assert.InDelta(t, coff0-dop/gnss.L1CA.CarrierFreq(9)*tEnd, tr.CodeOffset(), 2.0/fs)
	assert.InDelta(t, dop*tEnd, tr.ADR(), 50.0)
}

func TestTrackerLosesLock(t *testing.T) {
	const fs = 2.046e6
	rng := rand.New(rand.NewSource(2))
	tr, err := New(gnss.L1CA, 1, fs, 0.0)
	require.NoError(t, err)
	tr.Restart(0.0, 0.0, 0.0, 45.0)

	w := make([]complex64, 2*tr.N)
	lost := false
	for m := 1; m <= 2500; m++ {
		for i := range w {
			w[i] = complex(float32(rng.NormFloat64()), float32(rng.NormFloat64()))
		}
		if !tr.Update(float64(m)*1e-3, w) {
			lost = true
			break
		}
	}
	assert.True(t, lost, "noise-only stream held lock")
	assert.Less(t, tr.CN0(), ThresUnlock)
}

func TestTrackerRestart(t *testing.T) {
	tr, err := New(gnss.L1CA, 2, 2.046e6, 0.0)
	require.NoError(t, err)
	tr.Restart(1.5, 1200.0, 3e-4, 42.0)
	assert.Equal(t, 1200.0, tr.Doppler())
	assert.Equal(t, 3e-4, tr.CodeOffset())
	assert.Equal(t, 42.0, tr.CN0())
	assert.Equal(t, 0.0, tr.ADR())

	ok, errs := tr.NavCounts()
	assert.Zero(t, ok)
	assert.Zero(t, errs)
}

func TestTrackerShortWindow(t *testing.T) {
	tr, err := New(gnss.L1CA, 2, 2.046e6, 0.0)
	require.NoError(t, err)
	tr.Restart(0.0, 0.0, 0.0, 45.0)
	assert.False(t, tr.Update(1e-3, make([]complex64, tr.N)))
}
