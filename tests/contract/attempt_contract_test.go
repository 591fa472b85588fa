package contract_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/handler"
	"github.com/kodeuji/kodeuji-api/internal/service"
)

type stubAttemptService struct {
	state dto.AttemptStateResponse
}

func (s stubAttemptService) Start(context.Context, uint, uint) (dto.AttemptStateResponse, error) {
	return s.state, nil
}

func (s stubAttemptService) State(context.Context, uint, uint) (dto.AttemptStateResponse, error) {
	return s.state, nil
}

func (s stubAttemptService) SaveDraft(context.Context, uint, uint, string) error { return nil }

func (s stubAttemptService) SaveNotes(context.Context, uint, uint, string) error { return nil }

func (s stubAttemptService) RecordVisibility(context.Context, uint, uint, bool) (dto.VisibilityResponse, error) {
	return dto.VisibilityResponse{}, nil
}

func (s stubAttemptService) Finalize(context.Context, uint, uint, string, dto.FinalizeRequest) (dto.FinalizeResponse, error) {
	return dto.FinalizeResponse{}, nil
}

func (s stubAttemptService) Run(context.Context, time.Duration) {}

type stubTerminal struct{}

func (stubTerminal) Run(uint, uint, string) {}

func (stubTerminal) SubmitInput(uint, uint, string) error { return nil }

func (stubTerminal) Subscribe(uint, uint) (<-chan dto.TerminalLine, func()) {
	ch := make(chan dto.TerminalLine)
	close(ch)
	return ch, func() {}
}

func (stubTerminal) ForceRelease(uint, uint) {}

func (stubTerminal) Reset(uint, uint) {}

func TestAttemptStateContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", "attempt_state.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	remaining := 540
	deadline := time.Now().Add(9 * time.Minute).Unix()
	state := dto.AttemptStateResponse{
		Status:           service.AttemptStatusInProgress,
		Code:             "print(\"halo\")",
		Notes:            "draft catatan",
		TabSwitchCount:   1,
		RemainingSeconds: &remaining,
		DeadlineUnix:     &deadline,
	}

	attemptHandler := handler.NewAttemptHandler(stubAttemptService{state: state}, stubTerminal{}, zerolog.Nop())

	app := fiber.New()
	group := app.Group("/api/v1/attempts", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(7))
		c.Locals("user_role", "student")
		return c.Next()
	})
	attemptHandler.Register(group)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/3/state", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
