package timer

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pavelanni/classwork/internal/model"
)

// Source identifies which candidate supplied the authoritative timer.
type Source string

const (
	// SourcePersisted is a still-running timer persisted by an earlier load.
	SourcePersisted Source = "persisted"
	// SourceExternal is a duration passed in by the caller (e.g. query parameter).
	SourceExternal Source = "external"
	// SourcePreset is a duration configured ahead of time for the instance.
	SourcePreset Source = "preset"
	// SourceInstructions is a duration parsed out of the instructions text.
	SourceInstructions Source = "instructions"
	// SourceNone means no timer applies; the attempt is untimed.
	SourceNone Source = "none"
)

var (
	minutesPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?|минут\w*|мин\.?)`)
	hoursPattern   = regexp.MustCompile(`(?i)(\d+)\s*(?:hours?|hrs?|час\w*|ч\.)`)
)

// PresetProvider supplies pre-configured durations, keyed by instance.
type PresetProvider interface {
	GetPresetDuration(instanceID string) (int, error)
}

// Resolution is the outcome of reconciling all timer sources.
type Resolution struct {
	Source           Source `json:"source"`
	TotalSeconds     int    `json:"total_seconds"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Timed reports whether the resolution carries a countdown.
func (r Resolution) Timed() bool {
	return r.Source != SourceNone
}

// Reconciler resolves the authoritative remaining time from the
// candidate sources, highest precedence first: a running persisted
// timer, an externally supplied duration, a pre-configured duration,
// a duration embedded in the instructions text, or no timer at all.
//
// A timer already in progress is never reset by a lower-priority
// source: once any other source is selected, its state is persisted
// immediately so subsequent reconciliations see it as the running timer.
type Reconciler struct {
	timers  *Store
	presets PresetProvider
	now     func() time.Time
}

// NewReconciler creates a reconciler over the timer store and the
// preset duration provider.
func NewReconciler(timers *Store, presets PresetProvider) *Reconciler {
	return &Reconciler{timers: timers, presets: presets, now: time.Now}
}

// Resolve picks the authoritative timer for the instance.
// externalMinutes is the caller-supplied duration, 0 if absent.
func (r *Reconciler) Resolve(inst model.AssessmentInstance, externalMinutes int) (Resolution, error) {
	st, err := r.timers.Load(inst.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load persisted timer: %w", err)
	}
	if st != nil {
		if rem := st.Remaining(r.now()); rem > 0 {
			return Resolution{
				Source:           SourcePersisted,
				TotalSeconds:     st.TotalSeconds,
				RemainingSeconds: rem,
			}, nil
		}
	}

	if externalMinutes > 0 {
		return r.adopt(inst.ID, SourceExternal, externalMinutes*60)
	}

	preset, err := r.presets.GetPresetDuration(inst.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load preset duration: %w", err)
	}
	if preset > 0 {
		return r.adopt(inst.ID, SourcePreset, preset*60)
	}

	if secs := ParseInstructionsDuration(inst.Instructions); secs > 0 {
		return r.adopt(inst.ID, SourceInstructions, secs)
	}

	return Resolution{Source: SourceNone}, nil
}

// adopt selects a non-persisted source and writes its state back so
// the next reconciliation sees a running timer instead of racing
// through the precedence list again.
func (r *Reconciler) adopt(instanceID string, src Source, totalSeconds int) (Resolution, error) {
	if err := r.timers.Save(instanceID, totalSeconds, totalSeconds); err != nil {
		return Resolution{}, fmt.Errorf("persist adopted timer: %w", err)
	}
	return Resolution{
		Source:           src,
		TotalSeconds:     totalSeconds,
		RemainingSeconds: totalSeconds,
	}, nil
}

// ParseInstructionsDuration extracts a time limit in seconds from
// free-form instructions text ("You have 60 minutes..."). Minute
// phrasings take precedence over hour phrasings; the first match wins.
// Returns 0 if the text names no duration.
func ParseInstructionsDuration(text string) int {
	if m := minutesPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n * 60
		}
	}
	if m := hoursPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n * 3600
		}
	}
	return 0
}
