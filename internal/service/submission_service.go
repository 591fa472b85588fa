package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
	"github.com/kodeuji/kodeuji-api/pkg/ai"
)

// ErrSubmissionNotFound indicates the submission cannot be located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrReviewerUnavailable indicates no AI reviewer is configured.
var ErrReviewerUnavailable = errors.New("reviewer unavailable")

// SubmissionService exposes lecturer-facing operations on stored submissions.
type SubmissionService interface {
	ListByQuestion(ctx context.Context, questionID uint) ([]dto.SubmissionResponse, error)
	ListByStudent(ctx context.Context, studentID uint) ([]dto.SubmissionResponse, error)
	Check(ctx context.Context, studentID, questionID uint) (dto.CheckSubmissionResponse, error)
	Grade(ctx context.Context, submissionID uint, lecturerID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error)
	SuggestFeedback(ctx context.Context, submissionID uint) (dto.FeedbackSuggestionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	questions   repository.QuestionRepository
	reviewer    ai.Reviewer
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewSubmissionService constructs the submission service.
func NewSubmissionService(submissions repository.SubmissionRepository, questions repository.QuestionRepository, reviewer ai.Reviewer, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: submissions,
		questions:   questions,
		reviewer:    reviewer,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) ListByQuestion(ctx context.Context, questionID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{QuestionID: &questionID})
	if err != nil {
		return nil, err
	}

	responses := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, dto.NewSubmissionResponse(submission))
	}

	return responses, nil
}

func (s *submissionService) ListByStudent(ctx context.Context, studentID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: &studentID})
	if err != nil {
		return nil, err
	}

	responses := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, dto.NewSubmissionResponse(submission))
	}

	return responses, nil
}

func (s *submissionService) Check(ctx context.Context, studentID, questionID uint) (dto.CheckSubmissionResponse, error) {
	submission, err := s.submissions.GetByStudentAndQuestion(ctx, studentID, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CheckSubmissionResponse{HasSubmitted: false}, nil
		}
		return dto.CheckSubmissionResponse{}, err
	}

	response := dto.NewSubmissionResponse(submission)
	return dto.CheckSubmissionResponse{HasSubmitted: true, Submission: &response}, nil
}

func (s *submissionService) Grade(ctx context.Context, submissionID uint, lecturerID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	question, err := s.questions.GetByID(ctx, submission.QuestionID)
	if err == nil && question.LecturerID != lecturerID {
		return dto.SubmissionResponse{}, ErrQuestionForbidden
	}

	grade := payload.Grade
	submission.Grade = &grade
	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("lecturer_id", lecturerID).
		Int("grade", grade).
		Msg("submission graded")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) SuggestFeedback(ctx context.Context, submissionID uint) (dto.FeedbackSuggestionResponse, error) {
	if s.reviewer == nil {
		return dto.FeedbackSuggestionResponse{}, ErrReviewerUnavailable
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.FeedbackSuggestionResponse{}, ErrSubmissionNotFound
		}
		return dto.FeedbackSuggestionResponse{}, err
	}

	question := submission.Question
	result, err := s.reviewer.Review(ctx, ai.ReviewInput{
		QuestionTitle: question.Title,
		Description:   question.Description,
		StarterCode:   question.StarterCode,
		Code:          submission.Code,
		Outcome:       submission.Status,
		TestSummary:   summarizeTests(question),
		StudentNotes:  submission.Notes,
	})
	if err != nil {
		return dto.FeedbackSuggestionResponse{}, err
	}

	return dto.FeedbackSuggestionResponse{
		SuggestedGrade: result.SuggestedGrade,
		Verdict:        result.Verdict,
		Feedback:       result.Feedback,
		Details:        result.Details,
	}, nil
}

func summarizeTests(question models.Question) string {
	cases, err := question.DecodedTestCases()
	if err != nil || len(cases) == 0 {
		return "no test cases"
	}

	parts := make([]string, 0, len(cases))
	for i, tc := range cases {
		parts = append(parts, fmt.Sprintf("case %d expects %q", i+1, strings.TrimSpace(tc.ExpectedOutput)))
	}
	return strings.Join(parts, "; ")
}
