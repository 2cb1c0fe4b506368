// Package rcv drives a software GNSS receiver: it streams IF blocks
// from a radio source into per-RF-channel ring buffers, runs one worker
// goroutine per receiver channel and schedules signal searches so that
// at most one channel occupies the acquisition slot at a time.
package rcv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/radio"
)

const (
	baseCyc = 1e-3                  // base processing cycle (s)
	logCyc  = 1000                  // status log interval (base cycles)
	pollCyc = 50 * time.Millisecond // worker poll when caught up

	reacqTimeout = 60.0 // forget last Doppler after this long unlocked (s)
	minLock      = 2.0  // lock history shorter than this is not trusted (s)

	shortCyc = 5e-3 // code periods up to this always get a search slot (s)

	defaultBuffBlocks = 8000
	buffMargin        = 10 // replay stalls this many blocks before overrun

	defaultTAcq   = 0.010  // non-coherent acquisition integration (s)
	defaultMaxDop = 5000.0 // blind Doppler sweep half-range (Hz)

	// ThresLock is the acquisition C/N0 (dB-Hz) needed to enter LOCK.
	ThresLock = 38.0
)

var ErrNoChannels = errors.New("no usable receiver channels")

// ChannelSpec selects one (signal, PRN) pair to run.
type ChannelSpec struct {
	Sig gnss.Signal
	PRN int
}

// Config sets up a Receiver.
type Config struct {
	Signals  []ChannelSpec
	Fs       float64          // sampling rate (Hz)
	Fi       [2]float64       // IF frequency per RF channel (Hz)
	Format   radio.Format     // raw IF block format
	Sampling []radio.Sampling // per-RF-channel sampling type

	RefDop float64 // blind sweep center (Hz)
	MaxDop float64 // blind sweep half-range (Hz); 0 means default
	TAcq   float64 // non-coherent integration per attempt (s); 0 means default

	BuffBlocks int // ring capacity in base-cycle blocks; 0 means default

	Log *log.Logger // receiver log records; nil discards
}

// Receiver owns the sample buffers, channels and the search slot.
type Receiver struct {
	src radio.Source
	dec *radio.Decoder
	cfg Config

	N     int // samples per base cycle
	buffs []*Buffer
	raw   []byte
	out   [][]complex64

	chs []*Channel
	ich int // last channel given the search slot

	wix      atomic.Int64
	buffFull atomic.Int64
	wasFull  bool
	started  time.Time

	wg sync.WaitGroup
}

// New builds a receiver over src. Channels whose signal or PRN cannot
// be constructed are logged and skipped, the rest still run.
func New(src radio.Source, cfg Config) (*Receiver, error) {
	if cfg.Fs <= 0 {
		return nil, fmt.Errorf("bad sampling rate %f", cfg.Fs)
	}
	if cfg.MaxDop <= 0 {
		cfg.MaxDop = defaultMaxDop
	}
	if cfg.TAcq <= 0 {
		cfg.TAcq = defaultTAcq
	}
	if cfg.BuffBlocks <= 0 {
		cfg.BuffBlocks = defaultBuffBlocks
	}
	r := &Receiver{
		src: src,
		dec: radio.NewDecoder(cfg.Format, cfg.Sampling),
		cfg: cfg,
		N:   int(cfg.Fs * baseCyc),
	}
	r.wix.Store(-1)
	r.raw = make([]byte, r.dec.BlockBytes(r.N))
	for i := 0; i < r.dec.RFChannels(); i++ {
		r.buffs = append(r.buffs, newBuffer(r.N, cfg.BuffBlocks))
	}
	for i, cs := range cfg.Signals {
		rf := r.rfChannel(cs.Sig, cs.PRN)
		ch, err := newChannel(i+1, cs.Sig, cs.PRN, cfg.Fs, cfg.Fi[rf], r.buffs[rf], r)
		if err != nil {
			r.logf("$LOG,0.000,%s,%d,CHANNEL ERROR %v", gnss.SatID(cs.Sig, cs.PRN), i+1, err)
			continue
		}
		r.chs = append(r.chs, ch)
	}
	if len(r.chs) == 0 {
		return nil, ErrNoChannels
	}
	return r, nil
}

// rfChannel maps a signal to its RF channel: with a dual-band front end
// the lower band (under 1.5 GHz) rides the second channel.
func (r *Receiver) rfChannel(sig gnss.Signal, prn int) int {
	if r.dec.RFChannels() > 1 && sig.CarrierFreq(prn) < 1.5e9 {
		return 1
	}
	return 0
}

// Run streams blocks until the source is exhausted or ctx is canceled.
func (r *Receiver) Run(ctx context.Context) error {
	r.started = time.Now()
	r.logf("$LOG,0.000,,0,START NCH=%d FS=%.0f", len(r.chs), r.cfg.Fs)
	if !r.src.Live() {
		// A file replay is paced by backpressure, so every channel can
		// search the same pass in parallel from the start.
		for _, ch := range r.chs {
			ch.state.Store(int32(StateSearch))
		}
	}
	for _, ch := range r.chs {
		r.wg.Add(1)
		go ch.run()
	}
	var err error
	for ix := int64(0); ctx.Err() == nil; ix++ {
		if err = r.readBlock(ix); err != nil {
			break
		}
		if ix%logCyc == 0 {
			r.logf("$TIME,%.3f,%.3f", float64(ix)*baseCyc, time.Since(r.started).Seconds())
		}
		r.updateSearch(float64(ix) * baseCyc)
		r.throttle(ctx, ix)
	}
	r.stopChannels()
	t := float64(r.wix.Load()+1) * baseCyc
	r.logf("$LOG,%.3f,,0,STOP", t)
	if err == io.EOF {
		err = nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// readBlock reads and decodes one base cycle of IF data straight into
// the ring buffers, then publishes the write cursor.
func (r *Receiver) readBlock(ix int64) error {
	if err := r.src.ReadBlock(r.raw); err != nil {
		return err
	}
	r.out = r.out[:0]
	for _, b := range r.buffs {
		r.out = append(r.out, b.block(ix))
	}
	r.dec.Decode(r.raw, r.out)
	r.wix.Store(ix)
	return nil
}

// updateSearch fills the single acquisition slot. If the slot is busy
// nothing happens; otherwise the next idle channel in round-robin order
// is promoted, preferring a narrowed sweep when recent lock history or
// a locked channel on the same satellite gives a Doppler reference.
func (r *Receiver) updateSearch(now float64) {
	if r.chs[r.ich].State() == StateSearch {
		return
	}
	for range r.chs {
		r.ich = (r.ich + 1) % len(r.chs)
		ch := r.chs[r.ich]
		if ch.State() != StateIdle {
			continue
		}
		if !r.reacq(now, ch) && !r.assist(ch) {
			// Blind sweeps are cheap only on short codes; channels with
			// long code periods wait for a Doppler reference.
			if ch.T > shortCyc {
				continue
			}
			ch.srch.SetBlind()
		}
		ch.state.Store(int32(StateSearch))
		return
	}
}

// reacq narrows the sweep around the Doppler at the last lock loss when
// the loss is recent and the preceding lock was long enough to trust.
func (r *Receiver) reacq(now float64, ch *Channel) bool {
	ch.mu.Lock()
	ok := ch.wasLock && ch.lostDur >= minLock && now-ch.lostTime < reacqTimeout
	dop := ch.lastDop
	ch.mu.Unlock()
	if !ok {
		return false
	}
	ch.srch.SetRef(dop, narrowRange(ch.T))
	return true
}

// assist narrows the sweep from another locked channel on the same
// satellite, scaling its Doppler by the carrier frequency ratio.
func (r *Receiver) assist(ch *Channel) bool {
	for _, h := range r.chs {
		if h == ch || h.Sat != ch.Sat || h.State() != StateLock {
			continue
		}
		h.mu.Lock()
		dur := float64(h.lockCnt) * h.T
		dop := h.dop
		h.mu.Unlock()
		if dur < minLock {
			continue
		}
		ch.srch.SetRef(dop*ch.fc/h.fc, narrowRange(ch.T))
		return true
	}
	return false
}

// narrowRange is the assisted/re-acquisition sweep half-range: two
// Doppler bins either side of the reference.
func narrowRange(T float64) float64 { return 1.0 / T }

// throttle paces ingestion. Replaying a file stalls until every channel
// is within a safety margin of the ring capacity; a live source is
// never blocked, it only flags the overrun.
func (r *Receiver) throttle(ctx context.Context, ix int64) {
	nblk := int64(r.cfg.BuffBlocks)
	if r.src.Live() {
		full := false
		for _, ch := range r.chs {
			if ix-ch.readIx.Load() >= nblk {
				full = true
				r.buffFull.Add(1)
				if !r.wasFull {
					r.logf("$LOG,%.3f,%s,%d,BUFFER OVERRUN", float64(ix)*baseCyc, ch.Sat, ch.no)
				}
				break
			}
		}
		r.wasFull = full
		return
	}
	for _, ch := range r.chs {
		for ix-ch.readIx.Load() >= nblk-buffMargin {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func (r *Receiver) stopChannels() {
	for _, ch := range r.chs {
		ch.stop.Store(true)
	}
	r.wg.Wait()
}

func (r *Receiver) logf(format string, args ...interface{}) {
	if r.cfg.Log != nil {
		r.cfg.Log.Printf(format, args...)
	}
}

// BlockLag returns the largest channel read lag in blocks, a health
// measure of how far the slowest worker trails ingestion.
func (r *Receiver) BlockLag() int64 {
	wix := r.wix.Load()
	var lag int64
	for _, ch := range r.chs {
		if d := wix - ch.readIx.Load(); d > lag {
			lag = d
		}
	}
	return lag
}
