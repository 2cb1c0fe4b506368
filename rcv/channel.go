package rcv

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzchzchz/gnssrx/acq"
	"github.com/chzchzchz/gnssrx/gnss"
	"github.com/chzchzchz/gnssrx/trk"
)

// State is a channel's lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StateSearch
	StateLock
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSearch:
		return "SRCH"
	case StateLock:
		return "LOCK"
	}
	return "?"
}

// Tracker runs the post-acquisition tracking loops of one channel. It
// is owned by the channel worker; the receiver only ever touches it
// through Restart before promoting the channel.
type Tracker interface {
	// Restart primes the loops from an acquisition result.
	Restart(time, doppler, codeOff, cn0 float64)
	// Update runs one tracking step over a two-code-period window and
	// reports whether the channel is still locked.
	Update(time float64, buff []complex64) bool
	CN0() float64
	Doppler() float64
	CodeOffset() float64
	ADR() float64
	NavCounts() (ok, errs int)
}

// Channel ties one (signal, PRN) pair to its search state, tracker and
// worker goroutine. State transitions are one-directional per owner:
// only the receiver loop promotes IDLE to SEARCH, only the worker moves
// out of SEARCH or LOCK.
type Channel struct {
	Sig gnss.Signal
	PRN int
	Sat string

	no  int
	rcv *Receiver
	buf *Buffer

	srch *acq.Search
	trk  Tracker

	T    float64 // code period (s)
	N    int     // samples per code period
	nblk int64   // blocks per code period
	fc   float64 // carrier frequency (Hz)

	state  atomic.Int32
	readIx atomic.Int64
	stop   atomic.Bool

	window []complex64

	// snapshot fields, written by the worker, read by the receiver loop
	// and status reporters
	mu       sync.Mutex
	time     float64
	cn0      float64
	dop      float64
	coff     float64
	adr      float64
	lockCnt  int64
	lost     int
	navOK    int
	navErr   int
	lastDop  float64 // Doppler at last lock loss
	lostTime float64 // receiver time of last lock loss
	lostDur  float64 // lock duration before the loss (s)
	wasLock  bool
}

func newChannel(no int, sig gnss.Signal, prn int, fs, fi float64, buf *Buffer, r *Receiver) (*Channel, error) {
	srch, err := acq.New(sig, prn, fs, fi, r.cfg.RefDop, r.cfg.MaxDop)
	if err != nil {
		return nil, err
	}
	trk, err := trk.New(sig, prn, fs, fi)
	if err != nil {
		return nil, err
	}
	T := sig.CodePeriod()
	N := int(fs * T)
	c := &Channel{
		Sig:    sig,
		PRN:    prn,
		Sat:    gnss.SatID(sig, prn),
		no:     no,
		rcv:    r,
		buf:    buf,
		srch:   srch,
		trk:    trk,
		T:      T,
		N:      N,
		nblk:   int64(N / r.N),
		fc:     sig.CarrierFreq(prn),
		window: make([]complex64, 2*N),
	}
	c.state.Store(int32(StateIdle))
	return c, nil
}

// State returns the channel's current lifecycle stage.
func (c *Channel) State() State { return State(c.state.Load()) }

// run is the channel worker: it drains full code-period windows behind
// the receiver's write cursor and polls when caught up.
func (c *Channel) run() {
	defer c.rcv.wg.Done()
	for {
		ix := c.readIx.Load()
		for ix+2*c.nblk <= c.rcv.wix.Load()+1 {
			// idle channels advance the cursor without copying samples
			if c.State() != StateIdle {
				c.buf.window(ix*int64(c.rcv.N), c.window)
				c.update(float64(ix)*baseCyc, ix)
			}
			ix += c.nblk
			c.readIx.Store(ix)
		}
		if c.stop.Load() {
			return
		}
		time.Sleep(pollCyc)
	}
}

func (c *Channel) update(time float64, ix int64) {
	switch c.State() {
	case StateSearch:
		c.search(time)
	case StateLock:
		c.track(time, ix)
	}
}

func (c *Channel) search(time float64) {
	if err := c.srch.Add(c.window); err != nil {
		c.rcv.logf("$LOG,%.3f,%s,%d,SEARCH ERROR %v", time, c.Sat, c.no, err)
		c.srch.Reset()
		c.state.Store(int32(StateIdle))
		return
	}
	if c.srch.Integrated() < c.rcv.cfg.TAcq {
		return
	}
	res, err := c.srch.Peak()
	if err != nil || res.CN0 < ThresLock {
		c.mu.Lock()
		c.time = time
		c.mu.Unlock()
		c.state.Store(int32(StateIdle))
		return
	}
	c.trk.Restart(time, res.Doppler, res.CodeOff, res.CN0)
	c.mu.Lock()
	c.time = time
	c.cn0 = res.CN0
	c.dop = res.Doppler
	c.coff = res.CodeOff
	c.adr = 0
	c.lockCnt = 0
	c.mu.Unlock()
	c.state.Store(int32(StateLock))
	c.rcv.logf("$LOG,%.3f,%s,%d,SIGNAL FOUND (%.1f,%.1f,%.7f)",
		time, c.Sat, c.no, res.CN0, res.Doppler, res.CodeOff)
}

func (c *Channel) track(time float64, ix int64) {
	ok := c.trk.Update(time, c.window)
	navOK, navErr := c.trk.NavCounts()
	c.mu.Lock()
	c.time = time
	c.cn0 = c.trk.CN0()
	c.dop = c.trk.Doppler()
	c.coff = c.trk.CodeOffset()
	c.adr = c.trk.ADR()
	c.navOK, c.navErr = navOK, navErr
	c.lockCnt++
	c.wasLock = true
	if !ok {
		c.lastDop = c.dop
		c.lostTime = time
		c.lostDur = float64(c.lockCnt) * c.T
		c.lost++
	}
	c.mu.Unlock()
	if !ok {
		c.state.Store(int32(StateIdle))
		c.rcv.logf("$LOG,%.3f,%s,%d,SIGNAL LOST (%.1f)", time, c.Sat, c.no, c.trk.CN0())
		return
	}
	if ix%logCyc == 0 {
		c.rcv.logf("$CH,%.3f,%d,%s,%s,%d,%d,%.1f,%.9f,%.3f,%.3f,%d,%d",
			time, c.no, c.Sat, c.Sig, c.PRN, c.lockCount(), c.trk.CN0(),
			c.trk.CodeOffset(), c.trk.Doppler(), c.trk.ADR(), navOK, navErr)
	}
}

func (c *Channel) lockCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockCnt
}

// status copies the channel snapshot.
func (c *Channel) status(wix int64) ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStatus{
		Ch:       c.no,
		Sat:      c.Sat,
		Sig:      string(c.Sig),
		PRN:      c.PRN,
		State:    c.State().String(),
		Time:     c.time,
		LockSec:  float64(c.lockCnt) * c.T,
		CN0:      c.cn0,
		CodeOff:  c.coff,
		Doppler:  c.dop,
		ADR:      c.adr,
		NavOK:    c.navOK,
		NavErr:   c.navErr,
		Lost:     c.lost,
		BlockLag: wix - c.readIx.Load(),
	}
}
