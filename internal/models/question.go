package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Question is a programming exercise authored by a lecturer. Test cases are
// stored as an ordered JSON array; their declaration order is the evaluation
// order.
type Question struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	LecturerID       uint           `gorm:"not null" json:"lecturer_id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Description      string         `gorm:"type:text;not null" json:"description"`
	StarterCode      string         `gorm:"type:text" json:"starter_code"`
	TimeLimitMinutes *int           `json:"time_limit_minutes"`
	TestCases        datatypes.JSON `gorm:"not null" json:"test_cases"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Lecturer         Lecturer       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// TestCase is one entry of a question's test-case array. Inputs holds
// newline-delimited lines fed to the program; TestCode is optional auxiliary
// code executed in the same interpreter context after the student's code.
type TestCase struct {
	Inputs         string `json:"inputs"`
	TestCode       string `json:"test_code"`
	ExpectedOutput string `json:"expected_output"`
}

// InputLines splits the declared inputs into the lines fed to consecutive
// input requests.
func (tc TestCase) InputLines() []string {
	if tc.Inputs == "" {
		return nil
	}
	return strings.Split(tc.Inputs, "\n")
}

// DecodedTestCases unmarshals the stored JSON array in declaration order.
func (q Question) DecodedTestCases() ([]TestCase, error) {
	if len(q.TestCases) == 0 {
		return nil, nil
	}

	var cases []TestCase
	if err := json.Unmarshal(q.TestCases, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// HasTimeLimit reports whether attempts against this question run on a countdown.
func (q Question) HasTimeLimit() bool {
	return q.TimeLimitMinutes != nil && *q.TimeLimitMinutes > 0
}
