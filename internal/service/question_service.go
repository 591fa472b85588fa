package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
)

// ErrQuestionNotFound indicates the question cannot be located.
var ErrQuestionNotFound = errors.New("question not found")

// ErrQuestionForbidden indicates the caller does not own the question.
var ErrQuestionForbidden = errors.New("question belongs to another lecturer")

// QuestionService exposes question management operations.
type QuestionService interface {
	List(ctx context.Context, viewerRole string) ([]dto.QuestionResponse, error)
	Get(ctx context.Context, id uint, viewerID uint, viewerRole string) (dto.QuestionResponse, error)
	Create(ctx context.Context, lecturerID uint, payload dto.QuestionRequest) (dto.QuestionResponse, error)
	Update(ctx context.Context, id, lecturerID uint, payload dto.QuestionRequest) (dto.QuestionResponse, error)
	Delete(ctx context.Context, id, lecturerID uint) error
}

type questionService struct {
	questions repository.QuestionRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewQuestionService constructs a question service. Descriptions are stored
// sanitized because they are rendered as HTML in the student workspace.
func NewQuestionService(questions repository.QuestionRepository, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		questions: questions,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) List(ctx context.Context, viewerRole string) ([]dto.QuestionResponse, error) {
	questions, err := s.questions.List(ctx)
	if err != nil {
		return nil, err
	}

	includeTestCases := viewerRole == "lecturer"
	responses := make([]dto.QuestionResponse, 0, len(questions))
	for _, question := range questions {
		responses = append(responses, dto.NewQuestionResponse(question, includeTestCases))
	}

	return responses, nil
}

func (s *questionService) Get(ctx context.Context, id uint, viewerID uint, viewerRole string) (dto.QuestionResponse, error) {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionResponse{}, err
	}

	includeTestCases := viewerRole == "lecturer" && question.LecturerID == viewerID
	return dto.NewQuestionResponse(question, includeTestCases), nil
}

func (s *questionService) Create(ctx context.Context, lecturerID uint, payload dto.QuestionRequest) (dto.QuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuestionResponse{}, err
	}

	testCases, err := encodeTestCases(payload.TestCases)
	if err != nil {
		return dto.QuestionResponse{}, err
	}

	question := models.Question{
		LecturerID:       lecturerID,
		Title:            payload.Title,
		Description:      s.sanitizer.Sanitize(payload.Description),
		StarterCode:      payload.StarterCode,
		TimeLimitMinutes: payload.TimeLimitMinutes,
		TestCases:        testCases,
	}

	if err := s.questions.Create(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	s.logger.Info().Uint("question_id", question.ID).Uint("lecturer_id", lecturerID).Msg("question created")
	return dto.NewQuestionResponse(question, true), nil
}

func (s *questionService) Update(ctx context.Context, id, lecturerID uint, payload dto.QuestionRequest) (dto.QuestionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuestionResponse{}, err
	}

	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionResponse{}, err
	}

	if question.LecturerID != lecturerID {
		return dto.QuestionResponse{}, ErrQuestionForbidden
	}

	testCases, err := encodeTestCases(payload.TestCases)
	if err != nil {
		return dto.QuestionResponse{}, err
	}

	question.Title = payload.Title
	question.Description = s.sanitizer.Sanitize(payload.Description)
	question.StarterCode = payload.StarterCode
	question.TimeLimitMinutes = payload.TimeLimitMinutes
	question.TestCases = testCases

	if err := s.questions.Update(ctx, &question); err != nil {
		return dto.QuestionResponse{}, err
	}

	return dto.NewQuestionResponse(question, true), nil
}

func (s *questionService) Delete(ctx context.Context, id, lecturerID uint) error {
	question, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQuestionNotFound
		}
		return err
	}

	if question.LecturerID != lecturerID {
		return ErrQuestionForbidden
	}

	return s.questions.Delete(ctx, id)
}

func encodeTestCases(payloads []dto.TestCasePayload) (datatypes.JSON, error) {
	cases := make([]models.TestCase, 0, len(payloads))
	for _, payload := range payloads {
		cases = append(cases, models.TestCase{
			Inputs:         payload.Inputs,
			TestCode:       payload.TestCode,
			ExpectedOutput: payload.ExpectedOutput,
		})
	}

	encoded, err := json.Marshal(cases)
	if err != nil {
		return nil, err
	}

	return datatypes.JSON(encoded), nil
}
