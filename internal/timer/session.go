package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// persistEveryTicks bounds write volume: state is saved every tenth
// tick rather than every second, so a crash loses at most ten seconds.
const persistEveryTicks = 10

// SessionConfig configures a countdown session.
type SessionConfig struct {
	InstanceID       string
	TotalSeconds     int
	RemainingSeconds int
	// OnTick receives the derived remaining seconds after every tick.
	// Presentation layers subscribe here; they never mutate the timer.
	OnTick func(remaining int)
	// OnExpire fires exactly once when the countdown reaches zero.
	OnExpire func()
}

// Session owns one instance's running countdown. A single goroutine
// drives Tick; the mutex only guards against Stop/Cancel arriving from
// another goroutine (e.g. an HTTP submit racing the ticker).
type Session struct {
	store *Sessions

	instanceID string
	total      int

	mu        sync.Mutex
	remaining int
	ticks     int
	expired   bool
	stopped   bool

	onTick   func(int)
	onExpire func()
}

// Sessions hands out countdown sessions bound to a timer store.
type Sessions struct {
	timers *Store
}

// NewSessions creates a session factory over the timer store.
func NewSessions(timers *Store) *Sessions {
	return &Sessions{timers: timers}
}

// Start creates a running session from a reconciled resolution.
func (f *Sessions) Start(cfg SessionConfig) *Session {
	return &Session{
		store:      f,
		instanceID: cfg.InstanceID,
		total:      cfg.TotalSeconds,
		remaining:  cfg.RemainingSeconds,
		onTick:     cfg.OnTick,
		onExpire:   cfg.OnExpire,
	}
}

// Remaining returns the seconds left on the local countdown.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Expired reports whether the countdown has reached zero.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Run drives the countdown with a one-second ticker until the session
// is stopped, cancelled, or ctx ends. Context cancellation counts as
// navigation-away: the current remaining time gets a final best-effort
// save so a later reload reconciles correctly.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			if !s.Tick() {
				return
			}
		}
	}
}

// Tick advances the countdown by one second and reports whether the
// session is still live. State is persisted every tenth tick. When the
// countdown reaches zero the expiry callback fires exactly once;
// repeated zero-ticks are no-ops.
func (s *Session) Tick() bool {
	s.mu.Lock()
	if s.stopped || s.expired {
		s.mu.Unlock()
		return false
	}

	if s.remaining > 0 {
		s.remaining--
	}
	s.ticks++
	remaining := s.remaining
	persist := s.ticks%persistEveryTicks == 0
	expire := remaining == 0
	if expire {
		s.expired = true
	}
	onTick, onExpire := s.onTick, s.onExpire
	s.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if persist && !expire {
		if err := s.store.timers.Save(s.instanceID, s.total, remaining); err != nil {
			slog.Warn("periodic timer save failed", "instance", s.instanceID, "error", err)
		}
	}
	if expire {
		if onExpire != nil {
			onExpire()
		}
		return false
	}
	return true
}

// Stop halts the countdown and persists the remaining time, so a later
// reload resumes from here. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	remaining := s.remaining
	expired := s.expired
	s.mu.Unlock()

	if expired {
		return
	}
	if err := s.store.timers.Save(s.instanceID, s.total, remaining); err != nil {
		slog.Warn("final timer save failed", "instance", s.instanceID, "error", err)
	}
}

// Cancel halts the countdown and clears the persisted state. Called on
// submission so an expiry mid-grading cannot fire a second auto-submit.
func (s *Session) Cancel() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.store.timers.Clear(s.instanceID)
}
