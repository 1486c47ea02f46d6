package model

import (
	"time"
)

// MaxScore is the top of the grading scale. Every aggregate score is
// clamped to [0, MaxScore].
const MaxScore = 10.0

// AttemptPhase represents where an assessment attempt is in the
// submission pipeline.
type AttemptPhase string

const (
	PhaseCollecting AttemptPhase = "collecting"
	PhaseSubmitting AttemptPhase = "submitting"
	PhaseGrading    AttemptPhase = "grading"
	PhaseDone       AttemptPhase = "done"
	PhaseFailed     AttemptPhase = "failed"
)

// EvalLabel is the closed set of per-question evaluation outcomes.
type EvalLabel string

const (
	EvalFullyCorrect     EvalLabel = "fully_correct"
	EvalPartiallyCorrect EvalLabel = "partially_correct"
	EvalIncorrect        EvalLabel = "incorrect"
	EvalUnanswered       EvalLabel = "unanswered"
)

// PenaltyKind distinguishes the two late-penalty shapes.
type PenaltyKind string

const (
	PenaltyFixed      PenaltyKind = "fixed"
	PenaltyPercentage PenaltyKind = "percentage"
)

// AssessmentInstance identifies one user's attempt at one exam or
// exercise. Immutable once created.
type AssessmentInstance struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Instructions  string     `json:"instructions"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	QuestionCount int        `json:"question_count"`
	GradingModel  string     `json:"grading_model"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Question is read-only input from the assessment definition.
type Question struct {
	ID       int64   `json:"id"`
	Ordinal  int     `json:"ordinal"` // 1-based position within the instance
	Text     string  `json:"text"`
	Passage  string  `json:"passage,omitempty"`
	Type     string  `json:"type"`
	MaxScore float64 `json:"max_score"`
}

// Answer is the student's response to one question. Mutable until
// submission, last write wins.
type Answer struct {
	QuestionID int64     `json:"question_id"`
	RawText    string    `json:"raw_text"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TimerState is the persisted countdown record for an instance.
// Remaining time is always derived from ExpiresAt, never stored as a
// raw counter, so elapsed wall time survives reloads.
type TimerState struct {
	TotalSeconds int        `json:"total_seconds"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUpdated  time.Time  `json:"last_updated"`
}

// Remaining returns whole seconds left at now, clamped at zero.
// A nil ExpiresAt means no active countdown and reports zero.
func (t TimerState) Remaining(now time.Time) int {
	if t.ExpiresAt == nil {
		return 0
	}
	rem := int(t.ExpiresAt.Sub(now).Seconds())
	if rem < 0 {
		return 0
	}
	return rem
}

// GradedAnswer is the validated per-question grading outcome. Produced
// exactly once per answer; immutable afterward.
type GradedAnswer struct {
	QuestionID     int64     `json:"question_id"`
	Ordinal        int       `json:"ordinal"`
	StandardAnswer string    `json:"standard_answer"`
	Label          EvalLabel `json:"label"`
	Score          float64   `json:"score"`
	MaxScore       float64   `json:"max_score"`
	Percentage     float64   `json:"percentage"`
	Feedback       string    `json:"feedback"`
	Suggestion     string    `json:"suggestion"`
	Fallback       bool      `json:"fallback"` // section missing or unparseable, synthesized
}

// LatePenalty is a deterministic deduction for submitting past the
// deadline. Nil penalty means the submission was on time.
type LatePenalty struct {
	MinutesLate int         `json:"minutes_late"`
	Kind        PenaltyKind `json:"kind"`
	Amount      float64     `json:"amount"` // points for fixed, percent for percentage
}

// SubmissionResult is the terminal record of an attempt. Created
// exactly once per AssessmentInstance.
type SubmissionResult struct {
	SubmissionID  string         `json:"submission_id"`
	InstanceID    string         `json:"instance_id"`
	FinalScore    float64        `json:"final_score"`
	GradedAnswers []GradedAnswer `json:"graded_answers"`
	Penalty       *LatePenalty   `json:"penalty,omitempty"`
	PendingReview bool           `json:"pending_review"` // grader output unusable, manual grading required
	SubmittedAt   time.Time      `json:"submitted_at"`
}

// CourseInfo holds export header fields kept in the metadata table.
type CourseInfo struct {
	CourseID     string `json:"course_id"`
	Subject      string `json:"subject"`
	GradingModel string `json:"grading_model"`
}

// SubmissionExport is the export-file envelope for all submissions.
type SubmissionExport struct {
	Course  CourseInfo         `json:"course"`
	Results []SubmissionResult `json:"results"`
}
