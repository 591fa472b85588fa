package ai

import "context"

// ReviewInput contains the artefacts needed to review a finalized submission.
type ReviewInput struct {
	QuestionTitle string
	Description   string
	StarterCode   string
	Code          string
	Outcome       string
	TestSummary   string
	StudentNotes  string
}

// ReviewResult is the structured feedback returned by the AI reviewer.
type ReviewResult struct {
	SuggestedGrade float64                `json:"suggested_grade"`
	Verdict        string                 `json:"verdict"`
	Feedback       string                 `json:"feedback"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Raw            map[string]interface{} `json:"raw,omitempty"`
}

// Reviewer describes an AI model capable of reviewing code submissions.
type Reviewer interface {
	Review(ctx context.Context, input ReviewInput) (ReviewResult, error)
}
