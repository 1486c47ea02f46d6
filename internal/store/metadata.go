package store

import (
	"database/sql"

	"github.com/pavelanni/classwork/internal/model"
)

// SetMetadata upserts a key-value pair in the course_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO course_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM course_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetCourseInfo stores all CourseInfo fields as metadata rows.
func (s *Store) SetCourseInfo(info model.CourseInfo) error {
	pairs := []struct{ k, v string }{
		{"course_id", info.CourseID},
		{"subject", info.Subject},
		{"grading_model", info.GradingModel},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetCourseInfo reads all CourseInfo fields from metadata.
func (s *Store) GetCourseInfo() (model.CourseInfo, error) {
	var info model.CourseInfo
	var err error

	if info.CourseID, err = s.GetMetadata("course_id"); err != nil {
		return info, err
	}
	if info.Subject, err = s.GetMetadata("subject"); err != nil {
		return info, err
	}
	if info.GradingModel, err = s.GetMetadata("grading_model"); err != nil {
		return info, err
	}
	return info, nil
}
