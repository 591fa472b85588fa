package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/middleware"
	"github.com/kodeuji/kodeuji-api/internal/service"
	"github.com/kodeuji/kodeuji-api/internal/utils"
)

// SubmissionHandler wires submission review endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	verify  service.VerifyService
	logger  zerolog.Logger
}

// NewSubmissionHandler creates a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, verify service.VerifyService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		verify:  verify,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register binds submission routes. Grading and verification are lecturer only.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Get("/check/:questionId", middleware.RequireRole("student"), h.check)
	router.Get("/mine", middleware.RequireRole("student"), h.listMine)
	router.Get("/question/:questionId", middleware.RequireRole("lecturer"), h.listByQuestion)
	router.Put("/:id/grade", middleware.RequireRole("lecturer"), h.grade)
	router.Get("/:id/feedback", middleware.RequireRole("lecturer"), h.suggestFeedback)
	router.Post("/:id/verify", middleware.RequireRole("lecturer"), h.verifySubmission)
}

func (h *SubmissionHandler) check(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	response, err := h.service.Check(c.UserContext(), userIDFromContext(c), questionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission status", response)
}

func (h *SubmissionHandler) listMine(c *fiber.Ctx) error {
	submissions, err := h.service.ListByStudent(c.UserContext(), userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) listByQuestion(c *fiber.Ctx) error {
	questionID, err := parseIDParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid question id")
	}

	submissions, err := h.service.ListByQuestion(c.UserContext(), questionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) grade(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Grade(c.UserContext(), id, userIDFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission graded", response)
}

func (h *SubmissionHandler) suggestFeedback(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	response, err := h.service.SuggestFeedback(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "feedback suggested", response)
}

func (h *SubmissionHandler) verifySubmission(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission id")
	}

	response, err := h.verify.Verify(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission verified", response)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound), errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrQuestionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrReviewerUnavailable), errors.Is(err, service.ErrSandboxUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("submission request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
