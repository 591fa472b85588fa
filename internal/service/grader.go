package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/pkg/interp"
)

// TestResult is the outcome of running student code against one test case.
// Index is 1-based so the client can render it directly.
type TestResult struct {
	Index    int
	Passed   bool
	Inputs   string
	TestCode string
	Expected string
	Actual   string
	Err      string
}

// AllPassed reports whether every result passed. An empty slice passes.
func AllPassed(results []TestResult) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Grader evaluates student code against a question's test cases. Each case
// runs in a fresh interpreter context so state never leaks between cases.
type Grader struct {
	engine interp.Engine
	logger zerolog.Logger
}

// NewGrader constructs a grader on the given interpreter engine.
func NewGrader(engine interp.Engine, logger zerolog.Logger) *Grader {
	return &Grader{
		engine: engine,
		logger: logger.With().Str("component", "grader").Logger(),
	}
}

// Evaluate runs code against every test case in order and returns one result
// per case. Failures never abort the run; later cases still execute.
func (g *Grader) Evaluate(ctx context.Context, code string, cases []models.TestCase) []TestResult {
	results := make([]TestResult, 0, len(cases))
	for i, tc := range cases {
		results = append(results, g.runCase(ctx, i+1, code, tc))
	}
	return results
}

func (g *Grader) runCase(ctx context.Context, index int, code string, tc models.TestCase) TestResult {
	result := TestResult{
		Index:    index,
		Inputs:   tc.Inputs,
		TestCode: tc.TestCode,
		Expected: strings.TrimSpace(tc.ExpectedOutput),
	}

	ictx := g.engine.NewContext()
	defer ictx.Close()

	var output strings.Builder
	inputs := tc.InputLines()
	nextInput := 0

	hooks := interp.Hooks{
		OnOutput: func(text string) {
			output.WriteString(text)
		},
		// Scripted inputs are consumed in order. Once exhausted every
		// further request yields an empty line so programs that over-read
		// terminate instead of hanging.
		OnInput: func(string) (string, error) {
			if nextInput < len(inputs) {
				value := inputs[nextInput]
				nextInput++
				return value, nil
			}
			return "", nil
		},
	}

	if err := ictx.Run(ctx, code, hooks); err != nil && !interp.IsStop(err) {
		result.Err = err.Error()
		result.Actual = strings.TrimSpace(output.String())
		return result
	}

	// Only output emitted by the test fragment counts. The student program's
	// own prints are discarded before the fragment runs against the shared
	// interpreter state.
	if tc.TestCode != "" {
		output.Reset()
		if err := ictx.Run(ctx, tc.TestCode, hooks); err != nil && !interp.IsStop(err) {
			result.Err = err.Error()
			result.Actual = strings.TrimSpace(output.String())
			return result
		}
	}

	result.Actual = strings.TrimSpace(output.String())
	result.Passed = result.Actual == result.Expected
	return result
}
