package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
	"github.com/kodeuji/kodeuji-api/pkg/sandbox"
)

// ErrSandboxUnavailable indicates no container runtime is configured.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// sandboxPrelude reproduces the workspace primitives inside a plain Lua 5.4
// container. input reads a line from stdin without echoing the prompt and
// stop aborts with the sentinel the result parser recognises.
const sandboxPrelude = `local function __read_line()
  local line = io.read("*l")
  if line == nil then return "" end
  return line
end
function input(_) return __read_line() end
function write(...)
  local parts = {}
  for i = 1, select("#", ...) do parts[#parts + 1] = tostring(select(i, ...)) end
  io.write(table.concat(parts))
end
function stop() error("SystemExit") end
`

// VerifyService re-grades a stored submission inside an isolated container,
// cross-checking the in-process grader against a real Lua runtime.
type VerifyService interface {
	Verify(ctx context.Context, submissionID uint) (dto.VerifyResponse, error)
}

// VerifyConfig carries sandbox execution knobs.
type VerifyConfig struct {
	Image         string
	MemoryLimitMB int
	CPUShares     int
	WorkspaceRoot string
}

type verifyService struct {
	submissions repository.SubmissionRepository
	questions   repository.QuestionRepository
	runner      sandbox.Runner
	config      VerifyConfig
	logger      zerolog.Logger
}

// NewVerifyService constructs the verify service.
func NewVerifyService(submissions repository.SubmissionRepository, questions repository.QuestionRepository, runner sandbox.Runner, cfg VerifyConfig, logger zerolog.Logger) VerifyService {
	if cfg.Image == "" {
		cfg.Image = "nickblah/lua:5.4-alpine"
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	return &verifyService{
		submissions: submissions,
		questions:   questions,
		runner:      runner,
		config:      cfg,
		logger:      logger.With().Str("component", "verify_service").Logger(),
	}
}

func (s *verifyService) Verify(ctx context.Context, submissionID uint) (dto.VerifyResponse, error) {
	if s.runner == nil {
		return dto.VerifyResponse{}, ErrSandboxUnavailable
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.VerifyResponse{}, ErrSubmissionNotFound
		}
		return dto.VerifyResponse{}, err
	}

	question, err := s.questions.GetByID(ctx, submission.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.VerifyResponse{}, ErrQuestionNotFound
		}
		return dto.VerifyResponse{}, err
	}

	cases, err := question.DecodedTestCases()
	if err != nil {
		return dto.VerifyResponse{}, fmt.Errorf("decode test cases: %w", err)
	}

	response := dto.VerifyResponse{Passed: true}
	for i, tc := range cases {
		result := s.runCase(ctx, i+1, submission.Code, tc)
		if !result.Passed {
			response.Passed = false
		}
		response.Results = append(response.Results, result)
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Bool("passed", response.Passed).
		Int("cases", len(cases)).
		Msg("submission verified in sandbox")

	return response, nil
}

func (s *verifyService) runCase(ctx context.Context, index int, code string, tc models.TestCase) dto.TestResultPayload {
	result := dto.TestResultPayload{
		Index:    index,
		Inputs:   tc.Inputs,
		TestCode: tc.TestCode,
		Expected: strings.TrimSpace(tc.ExpectedOutput),
	}

	// The student program and the test fragment run as separate chunks of
	// one script so fragment output can be separated with a marker.
	const marker = "__KODEUJI_TEST_OUTPUT__"
	script := sandboxPrelude + wrapChunk(code)
	if tc.TestCode != "" {
		script += fmt.Sprintf("\nio.write(%q)\n", marker) + wrapChunk(tc.TestCode)
	}

	workspace, err := os.MkdirTemp(s.config.WorkspaceRoot, "verify-")
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, "main.lua"), []byte(script), 0600); err != nil {
		result.Error = err.Error()
		return result
	}

	stdin := tc.Inputs
	if stdin != "" && !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}

	run, err := s.runner.Run(ctx, sandbox.RunRequest{
		Image:         s.config.Image,
		Cmd:           []string{"lua", "main.lua"},
		Stdin:         stdin,
		Workspace:     workspace,
		WorkingDir:    "/workspace",
		MemoryLimitMB: int64(s.config.MemoryLimitMB),
		CPUShares:     int64(s.config.CPUShares),
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	stdout := run.Stdout
	if tc.TestCode != "" {
		if _, after, found := strings.Cut(stdout, marker); found {
			stdout = after
		} else {
			result.Error = strings.TrimSpace(run.Stderr)
			if result.Error == "" {
				result.Error = "test fragment did not run"
			}
			return result
		}
	}

	result.Actual = strings.TrimSpace(stdout)
	result.Passed = result.Actual == result.Expected
	if !result.Passed && run.Stderr != "" {
		result.Error = strings.TrimSpace(run.Stderr)
	}
	return result
}

// wrapChunk runs a chunk through pcall so a deliberate stop() does not abort
// the rest of the script.
func wrapChunk(chunk string) string {
	return fmt.Sprintf("do\n  local ok, err = pcall(load(%q))\n  if not ok and not tostring(err):find(\"SystemExit\") then error(err) end\nend\n", chunk)
}
