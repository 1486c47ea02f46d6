// Package submit coordinates the submission pipeline: timer teardown,
// idempotency, grading, penalty, aggregation, and persistence.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/classwork/internal/grading"
	"github.com/pavelanni/classwork/internal/i18n"
	"github.com/pavelanni/classwork/internal/llm"
	"github.com/pavelanni/classwork/internal/model"
	"github.com/pavelanni/classwork/internal/penalty"
	"github.com/pavelanni/classwork/internal/timer"
)

// ErrGradingFailed wraps grader call failures. The attempt's answers
// are preserved; the student may retry or fall back to manual grading.
var ErrGradingFailed = errors.New("grading failed")

// Grader is the grading collaborator: prompt in, free text out.
type Grader interface {
	Grade(ctx context.Context, prompt string) (string, error)
}

// Storage is the persistence collaborator for the pipeline.
type Storage interface {
	GetInstance(id string) (model.AssessmentInstance, error)
	GetQuestions(instanceID string) ([]model.Question, error)
	GetAnswers(instanceID string) (map[int64]model.Answer, error)
	GetSubmissionByInstance(instanceID string) (*model.SubmissionResult, error)
	CreateSubmission(res model.SubmissionResult) (model.SubmissionResult, bool, error)
}

// Config holds orchestrator-wide settings.
type Config struct {
	// LatePenalties enables deadline penalties. When false, deadlines
	// are informational only.
	LatePenalties bool
	// Policy selects the score aggregation rule.
	Policy grading.AggregatePolicy
}

// Orchestrator builds per-instance attempts and carries their shared
// dependencies.
type Orchestrator struct {
	store  Storage
	grader Grader
	timers *timer.Store
	cfg    Config
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]*Attempt
}

// New creates an orchestrator.
func New(store Storage, grader Grader, timers *timer.Store, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		grader:   grader,
		timers:   timers,
		cfg:      cfg,
		now:      time.Now,
		attempts: make(map[string]*Attempt),
	}
}

// Attempt is the explicit session object owning one assessment
// attempt's state machine: collecting -> submitting -> grading ->
// done | failed. Terminal results are immutable; failed attempts keep
// their answers and may re-enter the machine on retry.
type Attempt struct {
	o    *Orchestrator
	inst model.AssessmentInstance

	// mu is held for the whole of Submit. A second submit for the same
	// attempt blocks here and then resolves to the existing result, so
	// at most one grading call is ever issued.
	mu      sync.Mutex
	phase   model.AttemptPhase
	session *timer.Session
}

// Attempt returns the session object for an instance, creating it in
// the collecting phase on first use.
func (o *Orchestrator) Attempt(instanceID string) (*Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.attempts[instanceID]; ok {
		return a, nil
	}
	inst, err := o.store.GetInstance(instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	a := &Attempt{o: o, inst: inst, phase: model.PhaseCollecting}
	o.attempts[instanceID] = a
	return a, nil
}

// Instance returns the immutable instance this attempt belongs to.
func (a *Attempt) Instance() model.AssessmentInstance {
	return a.inst
}

// Phase returns the attempt's current pipeline phase.
func (a *Attempt) Phase() model.AttemptPhase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// BindTimer attaches the running countdown session. Expiry auto-submits
// whatever answers exist, even none: losing the attempt is worse than
// submitting an incomplete one.
func (a *Attempt) BindTimer(s *timer.Session) {
	a.mu.Lock()
	old := a.session
	a.session = s
	a.mu.Unlock()
	if old != nil && old != s {
		old.Stop()
	}
}

// AutoSubmit runs Submit on timer expiry, logging instead of returning
// the error since no request is waiting on it.
func (a *Attempt) AutoSubmit() {
	if _, err := a.Submit(context.Background()); err != nil {
		slog.Error("auto-submit after expiry failed", "instance", a.inst.ID, "error", err)
	}
}

// Submit drives the attempt to a terminal state and returns the
// submission result. Safe to call repeatedly: an already-submitted
// attempt resolves to the existing result without another grading call.
func (a *Attempt) Submit(ctx context.Context) (model.SubmissionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Penalty is anchored here, at submission initiation, so grading
	// latency cannot affect fairness.
	submittedAt := a.o.now()

	// submitting: the countdown must stop and its persisted state must
	// be cleared before the grader call, eliminating the race where
	// the timer expires again mid-grading.
	a.phase = model.PhaseSubmitting
	if a.session != nil {
		if err := a.session.Cancel(); err != nil {
			slog.Warn("clear timer on submit failed", "instance", a.inst.ID, "error", err)
		}
		a.session = nil
	} else if err := a.o.timers.Clear(a.inst.ID); err != nil {
		slog.Warn("clear timer on submit failed", "instance", a.inst.ID, "error", err)
	}

	// Idempotency: the existing-result lookup completes before any
	// grading call is issued.
	existing, err := a.o.store.GetSubmissionByInstance(a.inst.ID)
	if err != nil {
		a.phase = model.PhaseFailed
		return model.SubmissionResult{}, fmt.Errorf("idempotency check: %w", err)
	}
	if existing != nil {
		a.phase = model.PhaseDone
		return *existing, nil
	}

	a.phase = model.PhaseGrading
	res, err := a.grade(ctx, submittedAt)
	if err != nil {
		a.phase = model.PhaseFailed
		return res, err
	}
	a.phase = model.PhaseDone
	return res, nil
}

func (a *Attempt) grade(ctx context.Context, submittedAt time.Time) (model.SubmissionResult, error) {
	questions, err := a.o.store.GetQuestions(a.inst.ID)
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("load questions: %w", err)
	}
	answers, err := a.o.store.GetAnswers(a.inst.ID)
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("load answers: %w", err)
	}

	var pen *model.LatePenalty
	if a.o.cfg.LatePenalties {
		pen = penalty.Compute(a.inst.Deadline, submittedAt)
	}

	prompt := llm.BuildGradingPrompt(questions, answers, pen)
	raw, err := a.o.grader.Grade(ctx, prompt)
	if err != nil {
		// Answers stay in the store untouched for a retry.
		return model.SubmissionResult{}, fmt.Errorf("%w: %v", ErrGradingFailed, err)
	}

	parser := &grading.Parser{
		FallbackFeedback: func(ordinal int) string {
			return i18n.Td(ctx, "FallbackFeedback", map[string]any{"Ordinal": ordinal})
		},
	}

	res := model.SubmissionResult{
		InstanceID:  a.inst.ID,
		Penalty:     pen,
		SubmittedAt: submittedAt,
	}

	parsed, err := parser.Parse(raw, questions)
	switch {
	case errors.Is(err, grading.ErrNoStructure):
		// Nothing usable came back: the whole submission is ungraded
		// pending manual review, score stays at zero.
		res.PendingReview = true
		for _, q := range questions {
			fb := parser.FallbackFeedback(q.Ordinal)
			res.GradedAnswers = append(res.GradedAnswers, model.GradedAnswer{
				QuestionID: q.ID,
				Ordinal:    q.Ordinal,
				Label:      model.EvalUnanswered,
				MaxScore:   q.MaxScore,
				Feedback:   fb,
				Fallback:   true,
			})
		}
	case err != nil:
		return model.SubmissionResult{}, fmt.Errorf("%w: %v", ErrGradingFailed, err)
	default:
		for _, d := range parsed.Defects {
			slog.Warn("grading response defect", "instance", a.inst.ID,
				"ordinal", d.Ordinal, "field", d.Field, "reason", d.Reason)
		}
		agg := grading.Aggregator{Policy: a.o.cfg.Policy}
		res.GradedAnswers = parsed.PerQuestion
		res.FinalScore = agg.Final(parsed, pen)
	}

	stored, created, err := a.o.store.CreateSubmission(res)
	if err != nil {
		// Grading finished but persistence did not. No automatic retry:
		// the computed score is surfaced alongside the error, and only
		// an explicit retry may create the submission.
		return res, fmt.Errorf("persist submission: %w", err)
	}
	if !created {
		slog.Info("submission raced, returning existing result",
			"instance", a.inst.ID, "submission", stored.SubmissionID)
	}
	return stored, nil
}
