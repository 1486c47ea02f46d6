package timer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pavelanni/classwork/internal/model"
)

// Persistence is the raw keyed record storage behind the timer store.
type Persistence interface {
	PutTimerRecord(instanceID string, record string) error
	GetTimerRecord(instanceID string) (string, error)
	DeleteTimerRecord(instanceID string) error
}

// record is the wire format of a persisted timer.
type record struct {
	TotalTime   int    `json:"totalTime"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	LastUpdated string `json:"lastUpdated"`
	// SecondsLeft is the legacy format that stored a raw countdown
	// value instead of an absolute deadline. Normalized on read.
	SecondsLeft *int `json:"secondsLeft,omitempty"`
}

// Store persists timer deadlines keyed by assessment instance.
// It stores an absolute expiry timestamp, never a countdown value, so
// time elapsed while the process was away is reflected on the next Load.
type Store struct {
	db  Persistence
	now func() time.Time
}

// NewStore creates a timer store over the given persistence.
func NewStore(db Persistence) *Store {
	return &Store{db: db, now: time.Now}
}

// Save persists the timer for an instance as expiresAt = now + remaining.
func (s *Store) Save(instanceID string, totalSeconds, remainingSeconds int) error {
	now := s.now()
	rec := record{
		TotalTime:   totalSeconds,
		ExpiresAt:   now.Add(time.Duration(remainingSeconds) * time.Second).Format(time.RFC3339),
		LastUpdated: now.Format(time.RFC3339),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.PutTimerRecord(instanceID, string(data))
}

// Load returns the persisted timer state for an instance, or nil if no
// record exists. Corrupt records are treated as absent: a broken timer
// must never block the student.
//
// Legacy records carrying a raw countdown value are normalized to the
// absolute-deadline format and written back, so subsequent loads see
// the unified format.
func (s *Store) Load(instanceID string) (*model.TimerState, error) {
	raw, err := s.db.GetTimerRecord(instanceID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		slog.Warn("corrupt timer record, treating as absent", "instance", instanceID, "error", err)
		return nil, nil
	}

	if rec.ExpiresAt == "" && rec.SecondsLeft != nil {
		// Migration-on-read for the legacy countdown format.
		if err := s.Save(instanceID, rec.TotalTime, *rec.SecondsLeft); err != nil {
			return nil, err
		}
		expires := s.now().Add(time.Duration(*rec.SecondsLeft) * time.Second)
		return &model.TimerState{
			TotalSeconds: rec.TotalTime,
			ExpiresAt:    &expires,
			LastUpdated:  s.now(),
		}, nil
	}

	expires, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		slog.Warn("unparseable timer expiry, treating as absent", "instance", instanceID, "error", err)
		return nil, nil
	}
	st := model.TimerState{
		TotalSeconds: rec.TotalTime,
		ExpiresAt:    &expires,
	}
	if updated, err := time.Parse(time.RFC3339, rec.LastUpdated); err == nil {
		st.LastUpdated = updated
	}
	return &st, nil
}

// Clear removes the persisted timer for an instance.
func (s *Store) Clear(instanceID string) error {
	return s.db.DeleteTimerRecord(instanceID)
}
