package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/classwork/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		deadline DATETIME,
		question_count INTEGER NOT NULL DEFAULT 0,
		grading_model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		passage TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'open',
		max_score REAL NOT NULL DEFAULT 10,
		FOREIGN KEY (instance_id) REFERENCES instances(id),
		UNIQUE (instance_id, ordinal)
	);

	CREATE TABLE IF NOT EXISTS answers (
		instance_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		raw_text TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (instance_id, question_id),
		FOREIGN KEY (instance_id) REFERENCES instances(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS timer_records (
		instance_id TEXT PRIMARY KEY,
		record TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preset_durations (
		instance_id TEXT PRIMARY KEY,
		minutes INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL UNIQUE,
		final_score REAL NOT NULL DEFAULT 0,
		penalty_minutes INTEGER,
		penalty_kind TEXT,
		penalty_amount REAL,
		pending_review INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (instance_id) REFERENCES instances(id)
	);

	CREATE TABLE IF NOT EXISTS graded_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		standard_answer TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT 'unanswered',
		score REAL NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 10,
		percentage REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		suggestion TEXT NOT NULL DEFAULT '',
		fallback INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		UNIQUE (submission_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS course_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateInstance stores an assessment instance with its questions.
// Question ordinals are assigned from slice order, starting at 1.
func (s *Store) CreateInstance(inst model.AssessmentInstance, questions []model.Question) (model.AssessmentInstance, error) {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	inst.QuestionCount = len(questions)

	tx, err := s.db.Begin()
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO instances (id, title, instructions, deadline, question_count, grading_model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Title, inst.Instructions, inst.Deadline, inst.QuestionCount, inst.GradingModel, inst.CreatedAt,
	)
	if err != nil {
		return inst, err
	}

	for i, q := range questions {
		maxScore := q.MaxScore
		if maxScore == 0 {
			maxScore = model.MaxScore
		}
		_, err := tx.Exec(
			`INSERT INTO questions (instance_id, ordinal, text, passage, type, max_score)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			inst.ID, i+1, q.Text, q.Passage, q.Type, maxScore,
		)
		if err != nil {
			return inst, err
		}
	}

	return inst, tx.Commit()
}

// GetInstance returns an instance by ID.
func (s *Store) GetInstance(id string) (model.AssessmentInstance, error) {
	var inst model.AssessmentInstance
	err := s.db.QueryRow(
		`SELECT id, title, instructions, deadline, question_count, grading_model, created_at
		 FROM instances WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.Title, &inst.Instructions, &inst.Deadline, &inst.QuestionCount, &inst.GradingModel, &inst.CreatedAt)
	return inst, err
}

// GetQuestions returns the instance's questions in ordinal order.
func (s *Store) GetQuestions(instanceID string) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, ordinal, text, passage, type, max_score FROM questions
		 WHERE instance_id = ? ORDER BY ordinal`, instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Ordinal, &q.Text, &q.Passage, &q.Type, &q.MaxScore); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpsertAnswer stores the student's answer to one question,
// overwriting any previous text. Last write wins.
func (s *Store) UpsertAnswer(instanceID string, questionID int64, rawText string) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO answers (instance_id, question_id, raw_text, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(instance_id, question_id) DO UPDATE SET raw_text = ?, updated_at = ?`,
		instanceID, questionID, rawText, now, rawText, now,
	)
	return err
}

// GetAnswers returns the instance's answers keyed by question ID.
func (s *Store) GetAnswers(instanceID string) (map[int64]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, raw_text, updated_at FROM answers WHERE instance_id = ?`, instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answers := make(map[int64]model.Answer)
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.RawText, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers[a.QuestionID] = a
	}
	return answers, rows.Err()
}

// PutTimerRecord upserts the raw timer record for an instance.
func (s *Store) PutTimerRecord(instanceID string, record string) error {
	_, err := s.db.Exec(
		`INSERT INTO timer_records (instance_id, record) VALUES (?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET record = ?`,
		instanceID, record, record,
	)
	return err
}

// GetTimerRecord returns the raw timer record, or "" if none exists.
func (s *Store) GetTimerRecord(instanceID string) (string, error) {
	var record string
	err := s.db.QueryRow(`SELECT record FROM timer_records WHERE instance_id = ?`, instanceID).Scan(&record)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return record, err
}

// DeleteTimerRecord removes the timer record for an instance.
func (s *Store) DeleteTimerRecord(instanceID string) error {
	_, err := s.db.Exec(`DELETE FROM timer_records WHERE instance_id = ?`, instanceID)
	return err
}

// SetPresetDuration stores a pre-configured duration in minutes.
func (s *Store) SetPresetDuration(instanceID string, minutes int) error {
	_, err := s.db.Exec(
		`INSERT INTO preset_durations (instance_id, minutes) VALUES (?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET minutes = ?`,
		instanceID, minutes, minutes,
	)
	return err
}

// GetPresetDuration returns the pre-configured duration in minutes,
// or 0 if none is set.
func (s *Store) GetPresetDuration(instanceID string) (int, error) {
	var minutes int
	err := s.db.QueryRow(`SELECT minutes FROM preset_durations WHERE instance_id = ?`, instanceID).Scan(&minutes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return minutes, err
}

// CreateSubmission records a submission result exactly once per
// instance. If a result already exists the existing one is returned
// and created is false; the new result is discarded. The instance's
// preset duration entry is removed in the same transaction.
func (s *Store) CreateSubmission(res model.SubmissionResult) (model.SubmissionResult, bool, error) {
	if res.SubmissionID == "" {
		res.SubmissionID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return res, false, err
	}
	defer tx.Rollback()

	var penaltyMinutes *int
	var penaltyKind *string
	var penaltyAmount *float64
	if res.Penalty != nil {
		penaltyMinutes = &res.Penalty.MinutesLate
		kind := string(res.Penalty.Kind)
		penaltyKind = &kind
		penaltyAmount = &res.Penalty.Amount
	}

	sqlRes, err := tx.Exec(
		`INSERT INTO submissions (id, instance_id, final_score, penalty_minutes, penalty_kind, penalty_amount, pending_review, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(instance_id) DO NOTHING`,
		res.SubmissionID, res.InstanceID, res.FinalScore, penaltyMinutes, penaltyKind, penaltyAmount, res.PendingReview, res.SubmittedAt,
	)
	if err != nil {
		return res, false, err
	}
	inserted, err := sqlRes.RowsAffected()
	if err != nil {
		return res, false, err
	}

	if inserted == 0 {
		// Another submission won the race. Surface the existing result.
		if err := tx.Commit(); err != nil {
			return res, false, err
		}
		existing, err := s.GetSubmissionByInstance(res.InstanceID)
		if err != nil {
			return res, false, err
		}
		if existing == nil {
			return res, false, fmt.Errorf("submission for instance %s vanished after conflict", res.InstanceID)
		}
		return *existing, false, nil
	}

	for _, ga := range res.GradedAnswers {
		_, err := tx.Exec(
			`INSERT INTO graded_answers (submission_id, question_id, ordinal, standard_answer, label, score, max_score, percentage, feedback, suggestion, fallback)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.SubmissionID, ga.QuestionID, ga.Ordinal, ga.StandardAnswer, ga.Label, ga.Score, ga.MaxScore, ga.Percentage, ga.Feedback, ga.Suggestion, ga.Fallback,
		)
		if err != nil {
			return res, false, err
		}
	}

	// A finished attempt must not leave a preset duration behind.
	if _, err := tx.Exec(`DELETE FROM preset_durations WHERE instance_id = ?`, res.InstanceID); err != nil {
		return res, false, err
	}

	return res, true, tx.Commit()
}

// GetSubmissionByInstance returns the submission for an instance, or
// nil if the instance has not been submitted.
func (s *Store) GetSubmissionByInstance(instanceID string) (*model.SubmissionResult, error) {
	var res model.SubmissionResult
	var penaltyMinutes sql.NullInt64
	var penaltyKind sql.NullString
	var penaltyAmount sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT id, instance_id, final_score, penalty_minutes, penalty_kind, penalty_amount, pending_review, submitted_at
		 FROM submissions WHERE instance_id = ?`, instanceID,
	).Scan(&res.SubmissionID, &res.InstanceID, &res.FinalScore, &penaltyMinutes, &penaltyKind, &penaltyAmount, &res.PendingReview, &res.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if penaltyKind.Valid {
		res.Penalty = &model.LatePenalty{
			MinutesLate: int(penaltyMinutes.Int64),
			Kind:        model.PenaltyKind(penaltyKind.String),
			Amount:      penaltyAmount.Float64,
		}
	}

	res.GradedAnswers, err = s.getGradedAnswers(res.SubmissionID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) getGradedAnswers(submissionID string) ([]model.GradedAnswer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, ordinal, standard_answer, label, score, max_score, percentage, feedback, suggestion, fallback
		 FROM graded_answers WHERE submission_id = ? ORDER BY ordinal`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var graded []model.GradedAnswer
	for rows.Next() {
		var ga model.GradedAnswer
		if err := rows.Scan(&ga.QuestionID, &ga.Ordinal, &ga.StandardAnswer, &ga.Label, &ga.Score, &ga.MaxScore, &ga.Percentage, &ga.Feedback, &ga.Suggestion, &ga.Fallback); err != nil {
			return nil, err
		}
		graded = append(graded, ga)
	}
	return graded, rows.Err()
}

// ListSubmissions returns all submissions with their graded answers,
// newest first.
func (s *Store) ListSubmissions() ([]model.SubmissionResult, error) {
	rows, err := s.db.Query(`SELECT instance_id FROM submissions ORDER BY submitted_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var instanceIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		instanceIDs = append(instanceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []model.SubmissionResult
	for _, id := range instanceIDs {
		res, err := s.GetSubmissionByInstance(id)
		if err != nil {
			return nil, err
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}
