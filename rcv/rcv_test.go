package rcv

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/radio"
)

const testFs = 2.046e6

func testConfig(specs ...ChannelSpec) Config {
	return Config{
		Signals:    specs,
		Fs:         testFs,
		Format:     radio.FormatInt8IQ,
		MaxDop:     2000.0,
		TAcq:       0.005,
		BuffBlocks: 100,
	}
}

func newTestReceiver(t *testing.T, specs ...ChannelSpec) *Receiver {
	t.Helper()
	src := &radio.ReaderSource{R: bytes.NewReader(nil)}
	r, err := New(src, testConfig(specs...))
	require.NoError(t, err)
	return r
}

// genIQBytes synthesizes nblk base cycles of int8 I/Q for (sig, prn)
// with Doppler dop and initial delay coff0. The recorded Q rides the
// high-side mix, so its sign is flipped on the wire.
func genIQBytes(t *testing.T, sig gnss.Signal, prn int, dop, coff0, amp, sigma float64, nblk int, rng *rand.Rand) []byte {
	t.Helper()
	code, err := gnss.GenCode(sig, prn)
	require.NoError(t, err)
	T := sig.CodePeriod()
	tc := T / float64(len(code))
	fc := sig.CarrierFreq(prn)
	n := nblk * int(testFs*baseCyc)
	raw := make([]byte, 2*n)
	clamp := func(v float64) byte {
		if v > 127 {
			v = 127
		} else if v < -128 {
			v = -128
		}
		return byte(int8(v))
	}
	for i := 0; i < n; i++ {
		ts := float64(i) / testFs
		delay := coff0 - dop/fc*ts
		j := int(math.Mod(math.Mod(ts-delay, T)+T, T) / tc)
		s, c := math.Sincos(2.0 * math.Pi * dop * ts)
		a := amp * float64(code[j])
		raw[2*i] = clamp(a*c + rng.NormFloat64()*sigma)
		raw[2*i+1] = clamp(-(a*s + rng.NormFloat64()*sigma))
	}
	return raw
}

func TestReceiverNew(t *testing.T) {
	_, err := New(&radio.ReaderSource{R: bytes.NewReader(nil)}, Config{})
	assert.Error(t, err)

	// bad channels are skipped, none left is an error
	_, err = New(&radio.ReaderSource{R: bytes.NewReader(nil)},
		testConfig(ChannelSpec{Sig: gnss.L1CA, PRN: 0}))
	assert.ErrorIs(t, err, ErrNoChannels)

	r := newTestReceiver(t,
		ChannelSpec{Sig: gnss.L1CA, PRN: 1},
		ChannelSpec{Sig: gnss.L1CA, PRN: 0})
	assert.Len(t, r.chs, 1)

	s := r.Status()
	assert.Equal(t, 0.0, s.Time)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, "IDLE", s.Channels[0].State)
}

func TestSearchSlotSingle(t *testing.T) {
	r := newTestReceiver(t,
		ChannelSpec{Sig: gnss.L1CA, PRN: 1},
		ChannelSpec{Sig: gnss.L1CA, PRN: 2},
		ChannelSpec{Sig: gnss.L1CA, PRN: 3})

	nsearch := func() int {
		n := 0
		for _, ch := range r.chs {
			if ch.State() == StateSearch {
				n++
			}
		}
		return n
	}

	r.updateSearch(0.0)
	assert.Equal(t, 1, nsearch())
	first := r.ich

	// the slot is busy, repeated scheduling never adds a second search
	r.updateSearch(0.0)
	r.updateSearch(0.0)
	assert.Equal(t, 1, nsearch())
	assert.Equal(t, first, r.ich)

	// once the attempt ends the slot rotates to the next idle channel
	r.chs[first].state.Store(int32(StateIdle))
	r.updateSearch(0.0)
	assert.Equal(t, 1, nsearch())
	assert.NotEqual(t, first, r.ich)
}

func TestReacqNarrowsSweep(t *testing.T) {
	r := newTestReceiver(t, ChannelSpec{Sig: gnss.L1CA, PRN: 4})
	ch := r.chs[0]
	ch.wasLock = true
	ch.lostDur = 3.0
	ch.lostTime = 5.0
	ch.lastDop = 1200.0

	r.updateSearch(10.0)
	require.Equal(t, StateSearch, ch.State())
	assert.Equal(t, narrowRange(ch.T), ch.srch.HalfRange())
	fds := ch.srch.Bins()
	assert.InDelta(t, 1200.0, (fds[0]+fds[len(fds)-1])/2, 1e-9)

	// after the timeout the reference is stale, fall back to blind
	ch.state.Store(int32(StateIdle))
	r.updateSearch(5.0 + reacqTimeout)
	require.Equal(t, StateSearch, ch.State())
	assert.Equal(t, r.cfg.MaxDop, ch.srch.HalfRange())
}

func TestReacqNeedsLockHistory(t *testing.T) {
	r := newTestReceiver(t, ChannelSpec{Sig: gnss.L1CA, PRN: 4})
	ch := r.chs[0]
	ch.wasLock = true
	ch.lostDur = minLock / 2
	ch.lostTime = 5.0
	ch.lastDop = 1200.0

	r.updateSearch(10.0)
	require.Equal(t, StateSearch, ch.State())
	assert.Equal(t, r.cfg.MaxDop, ch.srch.HalfRange())
}

func TestAssistAcrossBands(t *testing.T) {
	r := newTestReceiver(t,
		ChannelSpec{Sig: gnss.G1CA, PRN: -3},
		ChannelSpec{Sig: gnss.G2CA, PRN: -3})
	helper, ch := r.chs[0], r.chs[1]
	require.Equal(t, helper.Sat, ch.Sat)

	helper.state.Store(int32(StateLock))
	helper.lockCnt = 3000
	helper.dop = 1000.0

	r.updateSearch(0.0)
	require.Equal(t, StateSearch, ch.State())
	assert.Equal(t, narrowRange(ch.T), ch.srch.HalfRange())
	fds := ch.srch.Bins()
	want := 1000.0 * ch.fc / helper.fc
	assert.InDelta(t, want, (fds[0]+fds[len(fds)-1])/2, 1e-6)
}

func TestAssistNeedsLockHistory(t *testing.T) {
	r := newTestReceiver(t,
		ChannelSpec{Sig: gnss.G1CA, PRN: 2},
		ChannelSpec{Sig: gnss.G2CA, PRN: 2})
	helper, ch := r.chs[0], r.chs[1]
	helper.state.Store(int32(StateLock))
	helper.lockCnt = 100 // well under minLock
	helper.dop = 1000.0

	r.updateSearch(0.0)
	require.Equal(t, StateSearch, ch.State())
	assert.Equal(t, r.cfg.MaxDop, ch.srch.HalfRange())
}

func TestLongCodeWaitsForReference(t *testing.T) {
	r := newTestReceiver(t, ChannelSpec{Sig: gnss.L1CA, PRN: 6})
	ch := r.chs[0]
	ch.T = 0.02 // blind sweeps on long codes are too expensive

	r.updateSearch(0.0)
	assert.Equal(t, StateIdle, ch.State())

	// a Doppler reference still earns the slot
	ch.wasLock = true
	ch.lostDur = 3.0
	ch.lostTime = 0.0
	ch.lastDop = -700.0
	r.updateSearch(1.0)
	assert.Equal(t, StateSearch, ch.State())
}

func TestThrottle(t *testing.T) {
	r := newTestReceiver(t, ChannelSpec{Sig: gnss.L1CA, PRN: 7})

	// replay: a canceled context unblocks the stall immediately
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.throttle(ctx, int64(r.cfg.BuffBlocks))

	// live: overruns are only flagged, never block
	r.src = &liveSource{}
	r.throttle(context.Background(), int64(r.cfg.BuffBlocks))
	assert.Greater(t, r.buffFull.Load(), int64(0))
	assert.Greater(t, r.Status().BuffFull, int64(0))
}

type liveSource struct{ radio.ReaderSource }

func (s *liveSource) Live() bool { return true }

func TestReceiverTracksFile(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second IF replay")
	}
	const (
		dop   = 800.0
		coff0 = 150.0 / testFs
		nblk  = 3000
	)
	rng := rand.New(rand.NewSource(5))
	raw := genIQBytes(t, gnss.L1CA, 9, dop, coff0, 30.0, 10.0, nblk, rng)

	src := &radio.ReaderSource{R: bytes.NewReader(raw)}
	cfg := testConfig(ChannelSpec{Sig: gnss.L1CA, PRN: 9})
	cfg.TAcq = 0.01
	r, err := New(src, cfg)
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))

	s := r.Status()
	assert.Equal(t, float64(nblk)*baseCyc, s.Time)
	assert.Equal(t, 1, s.Locked)
	c := s.Channels[0]
	assert.Equal(t, "LOCK", c.State)
	assert.Greater(t, c.CN0, ThresLock)
	assert.InDelta(t, dop, c.Doppler, 30.0)
	assert.Zero(t, c.Lost)
	assert.Greater(t, c.LockSec, 2.0)
	// last channel update trails ingestion by the window length at most
	assert.InDelta(t, s.Time, c.Time, 3*baseCyc)
	// workers never read past ingestion
	assert.GreaterOrEqual(t, c.BlockLag, int64(0))
}

func TestReplayBackpressureBound(t *testing.T) {
	const nblk = 400
	cfg := testConfig(ChannelSpec{Sig: gnss.L1CA, PRN: 21})
	cfg.BuffBlocks = 30

	// an all-zero capture keeps the channel searching, so the worker
	// stays slower than an unthrottled reader
	raw := make([]byte, nblk*2*int(testFs*baseCyc))
	src := &radio.ReaderSource{R: bytes.NewReader(raw)}
	r, err := New(src, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	var maxLag int64
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			// ingestion stalled at the margin and resumed to drain the file
			assert.Greater(t, maxLag, int64(0))
			assert.LessOrEqual(t, maxLag, int64(cfg.BuffBlocks-buffMargin))
			assert.Zero(t, r.buffFull.Load())
			return
		default:
			if l := r.BlockLag(); l > maxLag {
				maxLag = l
			}
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func TestReceiverRunCanceled(t *testing.T) {
	// an endless zero stream stands in for a live radio
	src := &liveSource{}
	src.R = &zeroReader{}
	r, err := New(src, testConfig(ChannelSpec{Sig: gnss.L1CA, PRN: 8}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	for r.wix.Load() < 20 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// zeroReader paces an endless zero IF stream roughly like a real front
// end so the ring never laps a reader during the test.
type zeroReader struct{}

func (z *zeroReader) Read(p []byte) (int, error) {
	time.Sleep(100 * time.Microsecond)
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
