package models

import "time"

// SubmissionStatus enumerates the outcome of a finalized attempt.
const (
	SubmissionStatusPassed = "passed"
	SubmissionStatusFailed = "failed"
)

// Submission is the immutable record created when a student's attempt is
// finalized. The grade is set later by a lecturer.
type Submission struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	StudentID       uint      `gorm:"not null;index:idx_submissions_student_question" json:"student_id"`
	QuestionID      uint      `gorm:"not null;index:idx_submissions_student_question" json:"question_id"`
	Code            string    `gorm:"type:text;not null" json:"code"`
	Status          string    `gorm:"size:50;not null" json:"status"`
	DurationSeconds *int      `json:"duration_seconds"`
	Notes           string    `gorm:"type:text" json:"notes"`
	TabSwitchCount  int       `gorm:"default:0" json:"tab_switch_count"`
	Grade           *int      `json:"grade"`
	CreatedAt       time.Time `json:"created_at"`
	Student         Student   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Question        Question  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Passed reports whether every test case succeeded at finalization.
func (s Submission) Passed() bool {
	return s.Status == SubmissionStatusPassed
}
