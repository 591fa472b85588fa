package dto

import (
	"github.com/kodeuji/kodeuji-api/internal/models"
)

// TestCasePayload describes a single test case attached to a question.
type TestCasePayload struct {
	Inputs         string `json:"inputs"`
	TestCode       string `json:"test_code"`
	ExpectedOutput string `json:"expected_output" validate:"required"`
}

// QuestionRequest represents the payload for creating or updating a question.
type QuestionRequest struct {
	Title            string            `json:"title" validate:"required,min=3"`
	Description      string            `json:"description" validate:"required"`
	StarterCode      string            `json:"starter_code"`
	TimeLimitMinutes *int              `json:"time_limit_minutes" validate:"omitempty,gt=0"`
	TestCases        []TestCasePayload `json:"test_cases" validate:"dive"`
}

// QuestionResponse represents a question to API consumers. Test cases are
// only included for the owning lecturer.
type QuestionResponse struct {
	ID               uint              `json:"id"`
	LecturerID       uint              `json:"lecturer_id"`
	LecturerName     string            `json:"lecturer_name,omitempty"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	StarterCode      string            `json:"starter_code"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	TestCases        []TestCasePayload `json:"test_cases,omitempty"`
	TestCaseCount    int               `json:"test_case_count"`
}

// NewQuestionResponse builds a response DTO from a model.
func NewQuestionResponse(question models.Question, includeTestCases bool) QuestionResponse {
	response := QuestionResponse{
		ID:               question.ID,
		LecturerID:       question.LecturerID,
		LecturerName:     question.Lecturer.Name,
		Title:            question.Title,
		Description:      question.Description,
		StarterCode:      question.StarterCode,
		TimeLimitMinutes: question.TimeLimitMinutes,
	}

	cases, err := question.DecodedTestCases()
	if err == nil {
		response.TestCaseCount = len(cases)
		if includeTestCases {
			payloads := make([]TestCasePayload, 0, len(cases))
			for _, tc := range cases {
				payloads = append(payloads, TestCasePayload{
					Inputs:         tc.Inputs,
					TestCode:       tc.TestCode,
					ExpectedOutput: tc.ExpectedOutput,
				})
			}
			response.TestCases = payloads
		}
	}

	return response
}
