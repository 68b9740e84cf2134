// Package breaker gates trade execution on recent failure history.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureThreshold    int           `json:"failure_threshold"`
	TrippedAt           time.Time     `json:"tripped_at,omitzero"`
	Cooldown            time.Duration `json:"cooldown"`
	ProbeInFlight       bool          `json:"probe_in_flight"`
	Reason              string        `json:"reason,omitempty"`
}

// ReopensAt is when an open breaker will admit a probe.
func (s Snapshot) ReopensAt() time.Time {
	return s.TrippedAt.Add(s.Cooldown)
}

// Permit is returned by Allow and must be passed back to Record.
type Permit struct {
	epoch uint64
	probe bool
}

// Probe reports whether this permit is the half-open trial attempt.
func (p Permit) Probe() bool { return p.probe }

// TransitionFunc observes state changes. It runs after the breaker lock
// is released and must not block.
type TransitionFunc func(from, to State, snap Snapshot)

// Config configures a Breaker.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Breaker is a Closed/Open/HalfOpen state machine. All transitions happen
// under one mutex; at most one half-open probe is outstanding.
type Breaker struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
	reason    string
	probing   bool
	// epoch advances on every transition so outcomes of permits issued
	// under an earlier state are ignored.
	epoch uint64

	hooks []TransitionFunc
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed Breaker.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "breaker")),
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnTransition registers fn to be called on every state change.
func (b *Breaker) OnTransition(fn TransitionFunc) {
	b.mu.Lock()
	b.hooks = append(b.hooks, fn)
	b.mu.Unlock()
}

type transition struct {
	from, to State
	snap     Snapshot
}

// Allow decides whether one execution may start. It never blocks.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()
	var tr *transition

	if b.state == Open && !b.now().Before(b.trippedAt.Add(b.cfg.Cooldown)) {
		tr = b.setLocked(HalfOpen, b.reason)
	}

	var (
		permit Permit
		err    error
	)
	switch b.state {
	case Closed:
		permit = Permit{epoch: b.epoch}
	case HalfOpen:
		if b.probing {
			err = fmt.Errorf("%w: probe in flight", domain.ErrBreakerOpen)
		} else {
			b.probing = true
			permit = Permit{epoch: b.epoch, probe: true}
		}
	default:
		err = fmt.Errorf("%w: reopens at %s", domain.ErrBreakerOpen,
			b.trippedAt.Add(b.cfg.Cooldown).Format(time.RFC3339))
	}
	hooks := b.hooks
	b.mu.Unlock()

	b.fire(hooks, tr)
	return permit, err
}

// Record reports the result of an execution admitted with p.
func (b *Breaker) Record(p Permit, success bool) {
	b.mu.Lock()
	var tr *transition

	if p.epoch == b.epoch {
		switch b.state {
		case Closed:
			if success {
				b.failures = 0
			} else {
				b.failures++
				if b.failures >= b.cfg.FailureThreshold {
					b.trippedAt = b.now()
					tr = b.setLocked(Open, fmt.Sprintf("%d consecutive execution failures", b.failures))
				}
			}
		case HalfOpen:
			if p.probe {
				b.probing = false
				if success {
					b.failures = 0
					tr = b.setLocked(Closed, "")
				} else {
					b.trippedAt = b.now()
					tr = b.setLocked(Open, "half-open probe failed")
				}
			}
		}
	}
	hooks := b.hooks
	b.mu.Unlock()

	b.fire(hooks, tr)
}

// Cancel gives back a permit that was never used, freeing the half-open
// probe slot without counting an outcome.
func (b *Breaker) Cancel(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.probe && p.epoch == b.epoch && b.state == HalfOpen {
		b.probing = false
	}
}

// Trip opens the breaker manually, restarting the cooldown.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	b.trippedAt = b.now()
	b.probing = false
	tr := b.setLocked(Open, reason)
	hooks := b.hooks
	b.mu.Unlock()

	b.fire(hooks, tr)
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	tr := b.setLocked(Closed, "")
	hooks := b.hooks
	b.mu.Unlock()

	b.fire(hooks, tr)
}

// Snapshot returns the current state without advancing it.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) snapshotLocked() Snapshot {
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.cfg.FailureThreshold,
		TrippedAt:           b.trippedAt,
		Cooldown:            b.cfg.Cooldown,
		ProbeInFlight:       b.probing,
		Reason:              b.reason,
	}
}

func (b *Breaker) setLocked(to State, reason string) *transition {
	from := b.state
	b.state = to
	b.reason = reason
	b.epoch++
	return &transition{from: from, to: to, snap: b.snapshotLocked()}
}

func (b *Breaker) fire(hooks []TransitionFunc, tr *transition) {
	if tr == nil {
		return
	}
	level := slog.LevelInfo
	if tr.to == Open {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "breaker: transition",
		slog.String("from", tr.from.String()),
		slog.String("to", tr.to.String()),
		slog.Int("failures", tr.snap.ConsecutiveFailures),
		slog.String("reason", tr.snap.Reason),
	)
	for _, fn := range hooks {
		fn(tr.from, tr.to, tr.snap)
	}
}
