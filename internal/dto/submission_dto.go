package dto

import (
	"time"

	"github.com/kodeuji/kodeuji-api/internal/models"
)

// GradeRequest represents the payload for grading a submission.
type GradeRequest struct {
	Grade int `json:"grade" validate:"min=0,max=100"`
}

// SubmissionResponse represents a finalized submission to API consumers.
type SubmissionResponse struct {
	ID              uint      `json:"id"`
	StudentID       uint      `json:"student_id"`
	StudentName     string    `json:"student_name,omitempty"`
	StudentNIM      string    `json:"student_nim,omitempty"`
	QuestionID      uint      `json:"question_id"`
	QuestionTitle   string    `json:"question_title,omitempty"`
	Code            string    `json:"code"`
	Status          string    `json:"status"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	TabSwitchCount  int       `json:"tab_switch_count"`
	Grade           *int      `json:"grade,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// CheckSubmissionResponse reports whether a student already has a submission
// for a question.
type CheckSubmissionResponse struct {
	HasSubmitted bool                `json:"has_submitted"`
	Submission   *SubmissionResponse `json:"submission,omitempty"`
}

// FeedbackSuggestionResponse carries an AI drafted grading suggestion.
type FeedbackSuggestionResponse struct {
	SuggestedGrade float64                `json:"suggested_grade"`
	Verdict        string                 `json:"verdict"`
	Feedback       string                 `json:"feedback"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// NewSubmissionResponse builds a response DTO from a model.
func NewSubmissionResponse(submission models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:              submission.ID,
		StudentID:       submission.StudentID,
		StudentName:     submission.Student.Name,
		StudentNIM:      submission.Student.NIM,
		QuestionID:      submission.QuestionID,
		QuestionTitle:   submission.Question.Title,
		Code:            submission.Code,
		Status:          submission.Status,
		DurationSeconds: submission.DurationSeconds,
		Notes:           submission.Notes,
		TabSwitchCount:  submission.TabSwitchCount,
		Grade:           submission.Grade,
		SubmittedAt:     submission.CreatedAt,
	}
}
