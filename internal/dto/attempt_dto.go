package dto

// AttemptStateResponse describes the persisted state of a coding attempt as
// seen on reload.
type AttemptStateResponse struct {
	Status           string `json:"status"`
	Code             string `json:"code"`
	Notes            string `json:"notes"`
	TabSwitchCount   int    `json:"tab_switch_count"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
	DeadlineUnix     *int64 `json:"deadline_unix,omitempty"`
	HasSubmitted     bool   `json:"has_submitted"`
}

// DraftRequest carries a code draft save.
type DraftRequest struct {
	Code string `json:"code"`
}

// NotesRequest carries a notes save.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// VisibilityRequest reports a page visibility transition from the client.
type VisibilityRequest struct {
	Hidden bool `json:"hidden"`
}

// VisibilityResponse returns the updated focus loss counter.
type VisibilityResponse struct {
	TabSwitchCount int  `json:"tab_switch_count"`
	Elevated       bool `json:"elevated"`
}

// TestResultPayload describes the outcome of one batch test case. Index is
// 1-based; the declared inputs and test fragment are echoed back so the
// client can render each row without re-fetching the question.
type TestResultPayload struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Inputs   string `json:"inputs"`
	TestCode string `json:"test_code"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Error    string `json:"error,omitempty"`
}

// FinalizeRequest optionally carries the latest editor state with a manual
// submit, so the server grades exactly what the student sees.
type FinalizeRequest struct {
	Code  string `json:"code"`
	Notes string `json:"notes"`
}

// FinalizeResponse summarises a finalized attempt.
type FinalizeResponse struct {
	Status          string              `json:"status"`
	Passed          bool                `json:"passed"`
	Trigger         string              `json:"trigger"`
	DurationSeconds int                 `json:"duration_seconds"`
	Results         []TestResultPayload `json:"results"`
}

// TerminalLine is one entry in the interactive run transcript.
type TerminalLine struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// TerminalInputRequest delivers a line typed into the interactive terminal.
type TerminalInputRequest struct {
	Value string `json:"value"`
}

// RunRequestPayload starts an interactive run of the provided source.
type RunRequestPayload struct {
	Code string `json:"code"`
}

// VerifyResponse reports the sandboxed cross-check of a graded attempt.
type VerifyResponse struct {
	Passed  bool                `json:"passed"`
	Results []TestResultPayload `json:"results"`
}
