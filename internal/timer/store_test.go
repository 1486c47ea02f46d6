package timer

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// memPersistence is an in-memory Persistence for tests.
type memPersistence struct {
	records map[string]string
	puts    int
	deletes int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{records: make(map[string]string)}
}

func (m *memPersistence) PutTimerRecord(instanceID, record string) error {
	m.records[instanceID] = record
	m.puts++
	return nil
}

func (m *memPersistence) GetTimerRecord(instanceID string) (string, error) {
	return m.records[instanceID], nil
}

func (m *memPersistence) DeleteTimerRecord(instanceID string) error {
	delete(m.records, instanceID)
	m.deletes++
	return nil
}

func newTestTimerStore(t *testing.T, at time.Time) (*Store, *memPersistence) {
	t.Helper()
	mem := newMemPersistence()
	s := NewStore(mem)
	s.now = func() time.Time { return at }
	return s, mem
}

func TestSaveThenLoad(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s, _ := newTestTimerStore(t, start)

	if err := s.Save("inst-1", 600, 120); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Thirty seconds pass while nobody is watching.
	s.now = func() time.Time { return start.Add(30 * time.Second) }

	st, err := s.Load("inst-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st == nil {
		t.Fatal("expected timer state")
	}
	if st.TotalSeconds != 600 {
		t.Errorf("expected total 600, got %d", st.TotalSeconds)
	}
	if rem := st.Remaining(s.now()); rem != 90 {
		t.Errorf("expected 90s remaining after 30s away, got %d", rem)
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestTimerStore(t, time.Now())
	st, err := s.Load("nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil for missing record, got %+v", st)
	}
}

func TestLoadCorruptTreatedAsAbsent(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{"not json", "{{{garbage"},
		{"bad expiry", `{"totalTime":600,"expiresAt":"not-a-time","lastUpdated":"also-bad"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newTestTimerStore(t, time.Now())
			mem.records["inst-1"] = tt.record

			st, err := s.Load("inst-1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if st != nil {
				t.Errorf("expected corrupt record to read as absent, got %+v", st)
			}
		})
	}
}

func TestLoadLegacyFormatMigratesOnRead(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s, mem := newTestTimerStore(t, start)
	mem.records["inst-1"] = `{"totalTime":600,"secondsLeft":120,"lastUpdated":"2024-01-01T09:59:00Z"}`

	st, err := s.Load("inst-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st == nil {
		t.Fatal("expected migrated timer state")
	}
	if rem := st.Remaining(start); rem != 120 {
		t.Errorf("expected 120s remaining, got %d", rem)
	}

	// The record must be written back in the unified format.
	var rec record
	if err := json.Unmarshal([]byte(mem.records["inst-1"]), &rec); err != nil {
		t.Fatalf("unmarshal written-back record: %v", err)
	}
	if rec.SecondsLeft != nil {
		t.Error("expected legacy field dropped on write-back")
	}
	if !strings.HasPrefix(rec.ExpiresAt, "2024-01-01T10:02:00") {
		t.Errorf("expected expiry two minutes out, got %q", rec.ExpiresAt)
	}
}

func TestClear(t *testing.T) {
	s, mem := newTestTimerStore(t, time.Now())
	if err := s.Save("inst-1", 60, 60); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Clear("inst-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := mem.records["inst-1"]; ok {
		t.Error("expected record removed")
	}
	st, _ := s.Load("inst-1")
	if st != nil {
		t.Error("expected nil after clear")
	}
}
