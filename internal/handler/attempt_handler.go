package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/service"
	"github.com/kodeuji/kodeuji-api/internal/utils"
)

// AttemptHandler wires the student coding attempt endpoints, including the
// websocket terminal for interactive runs.
type AttemptHandler struct {
	attempts service.AttemptService
	terminal service.TerminalService
	logger   zerolog.Logger
}

// NewAttemptHandler creates an attempt handler instance.
func NewAttemptHandler(attempts service.AttemptService, terminal service.TerminalService, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		terminal: terminal,
		logger:   logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register binds attempt routes under the provided router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Post("/:questionId/start", h.start)
	router.Get("/:questionId/state", h.state)
	router.Put("/:questionId/draft", h.saveDraft)
	router.Put("/:questionId/notes", h.saveNotes)
	router.Post("/:questionId/visibility", h.recordVisibility)
	router.Post("/:questionId/run", h.run)
	router.Post("/:questionId/input", h.submitInput)
	router.Post("/:questionId/finalize", h.finalize)

	router.Use("/:questionId/terminal", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/:questionId/terminal", websocket.New(h.handleTerminal))
}

func (h *AttemptHandler) start(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	state, err := h.attempts.Start(c.UserContext(), userIDFromContext(c), questionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt state", state)
}

func (h *AttemptHandler) state(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	state, err := h.attempts.State(c.UserContext(), userIDFromContext(c), questionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt state", state)
}

func (h *AttemptHandler) saveDraft(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.DraftRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.attempts.SaveDraft(c.UserContext(), userIDFromContext(c), questionID, payload.Code); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "draft saved", nil)
}

func (h *AttemptHandler) saveNotes(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.NotesRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.attempts.SaveNotes(c.UserContext(), userIDFromContext(c), questionID, payload.Notes); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "notes saved", nil)
}

func (h *AttemptHandler) recordVisibility(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.VisibilityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.attempts.RecordVisibility(c.UserContext(), userIDFromContext(c), questionID, payload.Hidden)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "visibility recorded", response)
}

func (h *AttemptHandler) run(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.RunRequestPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	h.terminal.Run(userIDFromContext(c), questionID, payload.Code)
	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "run started", nil)
}

func (h *AttemptHandler) submitInput(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.TerminalInputRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.terminal.SubmitInput(userIDFromContext(c), questionID, payload.Value); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "input delivered", nil)
}

func (h *AttemptHandler) finalize(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	var payload dto.FinalizeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.attempts.Finalize(c.UserContext(), userIDFromContext(c), questionID, service.FinalizeTriggerManual, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt finalized", response)
}

func (h *AttemptHandler) handleTerminal(conn *websocket.Conn) {
	studentID := websocketUserID(conn)
	if studentID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	questionID, err := strconv.ParseUint(strings.TrimSpace(conn.Params("questionId")), 10, 64)
	if err != nil || questionID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "question id required"))
		_ = conn.Close()
		return
	}

	h.logger.Info().Uint("student_id", studentID).Uint64("question_id", questionID).Msg("terminal connected")

	lines, cancel := h.terminal.Subscribe(studentID, uint(questionID))
	defer cancel()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var payload dto.TerminalInputRequest
			if err := conn.ReadJSON(&payload); err != nil {
				return
			}
			if err := h.terminal.SubmitInput(studentID, uint(questionID), payload.Value); err != nil {
				_ = conn.WriteJSON(dto.TerminalLine{Kind: "error", Text: err.Error()})
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := conn.WriteJSON(line); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *AttemptHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAttemptNotStarted):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAttemptFinalized):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrFinalizeInProgress):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoPendingInput):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("attempt request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func websocketUserID(conn *websocket.Conn) uint {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case uint:
			return v
		case int:
			if v > 0 {
				return uint(v)
			}
		case float64:
			if v > 0 {
				return uint(v)
			}
		case string:
			if parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
				return uint(parsed)
			}
		}
	}
	return 0
}
