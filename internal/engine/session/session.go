// Package session implements the capture session state machine. The
// controller is the sole owner of session state: every other pipeline stage
// reports events to it and reacts to its answers, and never changes state on
// its own.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"PCIeSpectra/internal/engine/filter"
	"PCIeSpectra/internal/engine/ring"
	"PCIeSpectra/internal/model"
)

// Error taxonomy surfaced to the host control interface.
var (
	ErrConfig      = errors.New("invalid session configuration")
	ErrSessionBusy = errors.New("a session is already active")
	ErrLinkDown    = errors.New("link is down")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateCapturing
	StateTriggered
	StateDraining
	StateAborted
)

// String returns the lowercase state name used by STATUS responses.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateCapturing:
		return "capturing"
	case StateTriggered:
		return "triggered"
	case StateDraining:
		return "draining"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Config is the arm-time session configuration. Rules and sizes are
// immutable once armed.
type Config struct {
	Rules         []model.FilterRule
	DefaultAction model.Action
	BufferSize    int
	Policy        ring.Policy
	PreTrigger    int
	PostTrigger   int
	Streaming     bool
}

// Status is a point-in-time snapshot for the host.
type Status struct {
	SessionID  string
	State      State
	Rules      int
	Capacity   int
	Occupancy  int
	TriggerSeq uint64
	LastAcked  uint64
	Link       model.LinkStatus
	Stats      model.SessionStats
	StartedAt  time.Time
}

// Controller coordinates arm, capture, trigger and drain for at most one
// active session.
type Controller struct {
	mu sync.Mutex

	state     State
	id        string
	cfg       Config
	ring      *ring.Ring
	filter    *filter.Engine
	startedAt time.Time

	triggerSeq uint64
	postSeen   int
	lastAcked  uint64

	ignored  uint64
	captured uint64
	overflow bool
}

// NewController returns a controller in the idle state.
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// Arm validates the configuration and moves idle → armed. It fails with
// ErrSessionBusy if any session is active and ErrConfig on invalid
// parameters; in both cases existing state is untouched.
func (c *Controller) Arm(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("%w (state %s)", ErrSessionBusy, c.state)
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be > 0, got %d", ErrConfig, cfg.BufferSize)
	}
	if cfg.PreTrigger < 0 || cfg.PostTrigger < 0 {
		return fmt.Errorf("%w: pre/post trigger counts must be >= 0", ErrConfig)
	}
	f, err := filter.New(cfg.Rules, cfg.DefaultAction)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	r, err := ring.New(cfg.BufferSize, cfg.Policy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	c.cfg = cfg
	c.filter = f
	c.ring = r
	// Nanosecond precision keeps IDs unique across rapid re-arms.
	c.id = time.Now().Format("2006-01-02_15-04-05.000000000")
	c.startedAt = time.Now()
	c.triggerSeq = 0
	c.postSeen = 0
	c.lastAcked = 0
	c.ignored, c.captured = 0, 0
	c.overflow = false
	c.state = StateArmed
	return nil
}

// StartCapture moves armed → capturing. The pipeline calls it once its
// stages are running; intake begins immediately.
func (c *Controller) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return fmt.Errorf("cannot start capture from state %s", c.state)
	}
	c.state = StateCapturing
	return nil
}

// Disposition is the controller's answer to an offered record.
type Disposition struct {
	Stored    bool
	Seq       uint64
	Triggered bool // this record fired the trigger
	DrainNow  bool // post-trigger count satisfied, stop intake and drain
	Overflow  bool // stop-on-full rejected the record
}

// Offer runs one framed record through the rule engine and the ring buffer
// and advances trigger bookkeeping. It is the single intake point; calls
// outside capturing/triggered states are dropped (intake barrier during
// drain).
func (c *Controller) Offer(rec *model.TLPRecord) Disposition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCapturing && c.state != StateTriggered {
		return Disposition{}
	}

	action := c.filter.Evaluate(rec)
	if action == model.ActionIgnore {
		c.ignored++
		return Disposition{}
	}

	seq, accepted := c.ring.Insert(rec)
	var d Disposition
	d.Seq = seq
	if accepted {
		d.Stored = true
		c.captured++
	} else {
		c.overflow = true
		d.Overflow = true
	}

	// A trigger match fires even when a full stop-on-full ring rejected the
	// record; its sequence number is still covered by the overflow marker on
	// drain.
	if action == model.ActionTrigger && c.state == StateCapturing {
		c.state = StateTriggered
		c.triggerSeq = seq
		d.Triggered = true
		if c.cfg.PostTrigger == 0 {
			c.state = StateDraining
			d.DrainNow = true
		}
		return d
	}

	if c.state == StateTriggered {
		c.postSeen++
		if c.postSeen >= c.cfg.PostTrigger {
			c.state = StateDraining
			d.DrainNow = true
		}
	}
	return d
}

// RequestDrain handles the host DRAIN command: capturing/triggered →
// draining, stopping intake.
func (c *Controller) RequestDrain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateCapturing, StateTriggered:
		c.state = StateDraining
		return nil
	case StateDraining:
		return nil // already draining, retry is harmless
	default:
		return fmt.Errorf("cannot drain from state %s", c.state)
	}
}

// Abort discards the session from any active state and returns to idle with
// an empty ring. reason is logged by the caller; the controller itself only
// guarantees the next arm sees a clean buffer.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return fmt.Errorf("no active session")
	default:
		c.state = StateAborted
		if c.ring != nil {
			c.ring.Clear()
		}
		c.state = StateIdle
		return nil
	}
}

// LinkDown reports loss of link. Unlike a host abort it is escalated from
// any active state, forcing aborted → idle. Returns true if a session was
// torn down.
func (c *Controller) LinkDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return false
	}
	c.state = StateAborted
	if c.ring != nil {
		c.ring.Clear()
	}
	c.state = StateIdle
	return true
}

// DrainEntries returns the buffered entries to deliver, clipped to the
// pre/post trigger window when one is configured. Only legal while
// draining; intake is already stopped by then.
func (c *Controller) DrainEntries() ([]*model.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDraining {
		return nil, fmt.Errorf("not draining (state %s)", c.state)
	}
	entries := c.ring.Drain()
	if c.triggerSeq == 0 || (c.cfg.PreTrigger == 0 && c.cfg.PostTrigger == 0) {
		return entries, nil
	}

	lo := uint64(1)
	if uint64(c.cfg.PreTrigger) < c.triggerSeq {
		lo = c.triggerSeq - uint64(c.cfg.PreTrigger)
	}
	hi := c.triggerSeq + uint64(c.cfg.PostTrigger)

	clipped := make([]*model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == model.EntryRecord {
			if e.Record.Seq >= lo && e.Record.Seq <= hi {
				clipped = append(clipped, e)
			}
			continue
		}
		if e.GapLast < lo || e.GapFirst > hi {
			continue
		}
		g := *e
		if g.GapFirst < lo {
			g.GapFirst = lo
		}
		if g.GapLast > hi {
			g.GapLast = hi
		}
		clipped = append(clipped, &g)
	}
	return clipped, nil
}

// Acked records the last sequence number the host acknowledged, so an
// interrupted drain resumes without duplicates or gaps.
func (c *Controller) Acked(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.lastAcked {
		c.lastAcked = seq
	}
}

// LastAcked returns the resume point for drain retries.
func (c *Controller) LastAcked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAcked
}

// CompleteDrain moves draining → idle and discards session state.
func (c *Controller) CompleteDrain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDraining {
		return fmt.Errorf("not draining (state %s)", c.state)
	}
	c.ring.Clear()
	c.state = StateIdle
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Streaming reports whether the active session exports records live.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateIdle && c.cfg.Streaming
}

// Snapshot builds a status view. Framer counters and link status are owned
// by the pipeline and merged in by the caller.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		SessionID:  c.id,
		State:      c.state,
		TriggerSeq: c.triggerSeq,
		LastAcked:  c.lastAcked,
		StartedAt:  c.startedAt,
	}
	st.Stats.Ignored = c.ignored
	st.Stats.Captured = c.captured
	st.Stats.Exported = c.lastAcked
	if c.filter != nil {
		st.Rules = c.filter.Len()
	}
	if c.ring != nil {
		st.Capacity = c.ring.Capacity()
		st.Occupancy = c.ring.Len()
		st.Stats.Dropped, st.Stats.Rejected = c.ring.Counters()
	}
	return st
}
