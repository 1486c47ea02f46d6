package timer

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T, remaining int) (*Session, *memPersistence) {
	t.Helper()
	s, mem := newTestTimerStore(t, time.Now())
	f := NewSessions(s)
	sess := f.Start(SessionConfig{
		InstanceID:       "inst-1",
		TotalSeconds:     600,
		RemainingSeconds: remaining,
	})
	return sess, mem
}

func TestTickDecrements(t *testing.T) {
	sess, _ := newTestSession(t, 30)

	var seen []int
	sess.onTick = func(rem int) { seen = append(seen, rem) }

	for i := 0; i < 3; i++ {
		if !sess.Tick() {
			t.Fatalf("session died on tick %d", i)
		}
	}
	if sess.Remaining() != 27 {
		t.Errorf("expected 27s remaining, got %d", sess.Remaining())
	}
	if len(seen) != 3 || seen[0] != 29 || seen[2] != 27 {
		t.Errorf("unexpected tick callbacks: %v", seen)
	}
}

func TestPeriodicPersistence(t *testing.T) {
	sess, mem := newTestSession(t, 100)

	for i := 0; i < 25; i++ {
		sess.Tick()
	}
	// Saves at ticks 10 and 20 only, bounding data loss to 10 seconds.
	if mem.puts != 2 {
		t.Errorf("expected 2 periodic saves after 25 ticks, got %d", mem.puts)
	}
}

func TestExpiryFiresExactlyOnce(t *testing.T) {
	sess, _ := newTestSession(t, 2)

	expirations := 0
	sess.onExpire = func() { expirations++ }

	if !sess.Tick() { // 1s left
		t.Fatal("session ended early")
	}
	if sess.Tick() { // reaches zero
		t.Error("expected session to end at zero")
	}
	// Repeated zero-ticks must not re-trigger.
	sess.Tick()
	sess.Tick()

	if expirations != 1 {
		t.Errorf("expected exactly one expiry signal, got %d", expirations)
	}
	if !sess.Expired() {
		t.Error("expected expired session")
	}
}

func TestStopPersistsFinalState(t *testing.T) {
	sess, mem := newTestSession(t, 100)

	for i := 0; i < 5; i++ {
		sess.Tick()
	}
	sess.Stop()

	if mem.puts != 1 {
		t.Fatalf("expected one final save, got %d", mem.puts)
	}
	// Stop is idempotent.
	sess.Stop()
	if mem.puts != 1 {
		t.Errorf("expected no extra save on second stop, got %d", mem.puts)
	}
	if sess.Tick() {
		t.Error("expected no ticks after stop")
	}
}

func TestCancelClearsPersistedState(t *testing.T) {
	sess, mem := newTestSession(t, 100)

	for i := 0; i < 12; i++ {
		sess.Tick()
	}
	if _, ok := mem.records["inst-1"]; !ok {
		t.Fatal("expected a periodic save before cancel")
	}

	if err := sess.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, ok := mem.records["inst-1"]; ok {
		t.Error("expected persisted state cleared")
	}
	if sess.Tick() {
		t.Error("expected no ticks after cancel")
	}
}

func TestExpiredSessionDoesNotSaveOnStop(t *testing.T) {
	sess, mem := newTestSession(t, 1)
	sess.Tick() // expires
	puts := mem.puts
	sess.Stop()
	if mem.puts != puts {
		t.Error("expected no save when stopping an expired session")
	}
}
