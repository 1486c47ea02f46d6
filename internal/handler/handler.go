// Package handler exposes the submission pipeline over HTTP. It is
// glue only: every decision lives in the timer, grading, and submit
// packages.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/classwork/internal/model"
	"github.com/pavelanni/classwork/internal/store"
	"github.com/pavelanni/classwork/internal/submit"
	"github.com/pavelanni/classwork/internal/timer"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	orch       *submit.Orchestrator
	reconciler *timer.Reconciler
	sessions   *timer.Sessions
}

// New creates a new Handler.
func New(s *store.Store, orch *submit.Orchestrator, rec *timer.Reconciler, sessions *timer.Sessions) *Handler {
	return &Handler{store: s, orch: orch, reconciler: rec, sessions: sessions}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/attempts", h.handleCreateAttempt)
	r.Get("/attempts/{instanceID}/timer", h.handleTimer)
	r.Put("/attempts/{instanceID}/answers/{questionID}", h.handleAnswer)
	r.Post("/attempts/{instanceID}/submit", h.handleSubmit)
	r.Get("/attempts/{instanceID}/result", h.handleResult)
}

type createAttemptRequest struct {
	Title           string     `json:"title"`
	Instructions    string     `json:"instructions"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Questions       []struct {
		Text     string  `json:"text"`
		Passage  string  `json:"passage,omitempty"`
		Type     string  `json:"type,omitempty"`
		MaxScore float64 `json:"max_score,omitempty"`
	} `json:"questions"`
}

func (h *Handler) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Questions) == 0 {
		http.Error(w, "at least one question is required", http.StatusBadRequest)
		return
	}

	questions := make([]model.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		qType := q.Type
		if qType == "" {
			qType = "open"
		}
		questions = append(questions, model.Question{
			Text:     q.Text,
			Passage:  q.Passage,
			Type:     qType,
			MaxScore: q.MaxScore,
		})
	}

	inst, err := h.store.CreateInstance(model.AssessmentInstance{
		Title:        req.Title,
		Instructions: req.Instructions,
		Deadline:     req.Deadline,
	}, questions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if req.DurationMinutes > 0 {
		if err := h.store.SetPresetDuration(inst.ID, req.DurationMinutes); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusCreated, inst)
}

// handleTimer reconciles the instance's timer sources and returns the
// authoritative state. A running countdown starts on first resolution
// of a timed source.
func (h *Handler) handleTimer(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	attempt, err := h.orch.Attempt(instanceID)
	if err != nil {
		http.Error(w, "unknown assessment instance", http.StatusNotFound)
		return
	}

	externalMinutes := 0
	if d := r.URL.Query().Get("duration"); d != "" {
		externalMinutes, err = strconv.Atoi(d)
		if err != nil || externalMinutes < 0 {
			http.Error(w, "invalid duration parameter", http.StatusBadRequest)
			return
		}
	}

	res, err := h.reconciler.Resolve(attempt.Instance(), externalMinutes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if res.Timed() {
		session := h.sessions.Start(timer.SessionConfig{
			InstanceID:       instanceID,
			TotalSeconds:     res.TotalSeconds,
			RemainingSeconds: res.RemainingSeconds,
			OnExpire:         attempt.AutoSubmit,
		})
		attempt.BindTimer(session)
		go session.Run(context.Background())
	}

	writeJSON(w, http.StatusOK, res)
}

type answerRequest struct {
	RawText string `json:"raw_text"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	questionID, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return
	}

	existing, err := h.store.GetSubmissionByInstance(instanceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "assessment already submitted", http.StatusConflict)
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.UpsertAnswer(instanceID, questionID, req.RawText); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	attempt, err := h.orch.Attempt(instanceID)
	if err != nil {
		http.Error(w, "unknown assessment instance", http.StatusNotFound)
		return
	}

	result, err := attempt.Submit(r.Context())
	if err != nil {
		if errors.Is(err, submit.ErrGradingFailed) {
			slog.Error("grading failed, answers preserved", "instance", instanceID, "error", err)
			http.Error(w, "grading failed; your answers are saved, please retry", http.StatusBadGateway)
			return
		}
		slog.Error("submission failed", "instance", instanceID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	result, err := h.store.GetSubmissionByInstance(instanceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "no submission for this instance", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
