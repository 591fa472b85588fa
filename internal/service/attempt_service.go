package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/observability"
	"github.com/kodeuji/kodeuji-api/internal/repository"
)

// Attempt lifecycle statuses.
const (
	AttemptStatusNotStarted = "not_started"
	AttemptStatusInProgress = "in_progress"
	AttemptStatusFinalizing = "finalizing"
	AttemptStatusFinalized  = "finalized"
)

// Finalization triggers.
const (
	FinalizeTriggerManual  = "manual"
	FinalizeTriggerTimeout = "timeout"
)

// IntegrityElevatedThreshold is the focus loss count at which an attempt is
// flagged for review.
const IntegrityElevatedThreshold = 3

// ErrAttemptNotStarted indicates no attempt exists for the student/question pair.
var ErrAttemptNotStarted = errors.New("attempt not started")

// ErrAttemptFinalized indicates the attempt is already finalized and frozen.
var ErrAttemptFinalized = errors.New("attempt already finalized")

// ErrFinalizeInProgress indicates a finalization is already running for the attempt.
var ErrFinalizeInProgress = errors.New("finalization in progress")

// AttemptService owns the submission lifecycle of a coding attempt: starting,
// draft persistence, the countdown, focus loss accounting and finalization.
type AttemptService interface {
	Start(ctx context.Context, studentID, questionID uint) (dto.AttemptStateResponse, error)
	State(ctx context.Context, studentID, questionID uint) (dto.AttemptStateResponse, error)
	SaveDraft(ctx context.Context, studentID, questionID uint, code string) error
	SaveNotes(ctx context.Context, studentID, questionID uint, notes string) error
	RecordVisibility(ctx context.Context, studentID, questionID uint, hidden bool) (dto.VisibilityResponse, error)
	Finalize(ctx context.Context, studentID, questionID uint, trigger string, payload dto.FinalizeRequest) (dto.FinalizeResponse, error)
	// Run drives the deadline heartbeat until ctx is cancelled. Expired
	// attempts are finalized exactly once with the timeout trigger.
	Run(ctx context.Context, tick time.Duration)
}

type attemptService struct {
	questions   repository.QuestionRepository
	submissions repository.SubmissionRepository
	redis       *redis.Client
	grader      *Grader
	terminal    TerminalService
	publisher   SubmissionPublisher
	logger      zerolog.Logger
	now         func() time.Time

	mu         sync.Mutex
	finalizing map[string]bool
	deadlines  map[string]attemptDeadline
}

type attemptDeadline struct {
	studentID  uint
	questionID uint
	deadline   time.Time
}

// NewAttemptService constructs the lifecycle controller.
func NewAttemptService(
	questions repository.QuestionRepository,
	submissions repository.SubmissionRepository,
	redisClient *redis.Client,
	grader *Grader,
	terminal TerminalService,
	publisher SubmissionPublisher,
	logger zerolog.Logger,
) AttemptService {
	return &attemptService{
		questions:   questions,
		submissions: submissions,
		redis:       redisClient,
		grader:      grader,
		terminal:    terminal,
		publisher:   publisher,
		logger:      logger.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
		finalizing:  make(map[string]bool),
		deadlines:   make(map[string]attemptDeadline),
	}
}

func attemptKey(studentID, questionID uint) string {
	return fmt.Sprintf("attempt:%d:%d", studentID, questionID)
}

func (s *attemptService) Start(ctx context.Context, studentID, questionID uint) (dto.AttemptStateResponse, error) {
	if submitted, state := s.existingSubmissionState(ctx, studentID, questionID); submitted {
		return state, nil
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptStateResponse{}, ErrQuestionNotFound
		}
		return dto.AttemptStateResponse{}, err
	}

	key := attemptKey(studentID, questionID)
	now := s.now()

	created, err := s.redis.HSetNX(ctx, key, "started_at", now.Unix()).Result()
	if err != nil {
		return dto.AttemptStateResponse{}, fmt.Errorf("persist attempt start: %w", err)
	}

	if created {
		observability.AttemptsStarted().Inc()
		if question.HasTimeLimit() {
			// The deadline is anchored to the persisted start so reloads
			// resume the same countdown instead of restarting it.
			deadline := now.Add(time.Duration(*question.TimeLimitMinutes) * time.Minute)
			if err := s.redis.HSetNX(ctx, key, "deadline", deadline.Unix()).Err(); err != nil {
				return dto.AttemptStateResponse{}, fmt.Errorf("persist attempt deadline: %w", err)
			}
		}
		if question.StarterCode != "" {
			if err := s.redis.HSetNX(ctx, key, "code", question.StarterCode).Err(); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("failed to seed starter code")
			}
		}
		s.logger.Info().
			Uint("student_id", studentID).
			Uint("question_id", questionID).
			Msg("attempt started")
	}

	return s.loadState(ctx, studentID, questionID)
}

func (s *attemptService) State(ctx context.Context, studentID, questionID uint) (dto.AttemptStateResponse, error) {
	if submitted, state := s.existingSubmissionState(ctx, studentID, questionID); submitted {
		return state, nil
	}

	return s.loadState(ctx, studentID, questionID)
}

// existingSubmissionState resolves the finalized state for attempts that
// already have a stored submission. Lookup errors other than not-found are
// swallowed so a degraded database never locks students out of their attempt.
func (s *attemptService) existingSubmissionState(ctx context.Context, studentID, questionID uint) (bool, dto.AttemptStateResponse) {
	submission, err := s.submissions.GetByStudentAndQuestion(ctx, studentID, questionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).
				Uint("student_id", studentID).
				Uint("question_id", questionID).
				Msg("existing submission check failed, continuing without it")
		}
		return false, dto.AttemptStateResponse{}
	}

	return true, dto.AttemptStateResponse{
		Status:         AttemptStatusFinalized,
		Code:           submission.Code,
		Notes:          submission.Notes,
		TabSwitchCount: submission.TabSwitchCount,
		HasSubmitted:   true,
	}
}

func (s *attemptService) loadState(ctx context.Context, studentID, questionID uint) (dto.AttemptStateResponse, error) {
	key := attemptKey(studentID, questionID)

	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return dto.AttemptStateResponse{}, fmt.Errorf("load attempt state: %w", err)
	}

	if len(fields) == 0 {
		return dto.AttemptStateResponse{Status: AttemptStatusNotStarted}, nil
	}

	state := dto.AttemptStateResponse{
		Status: AttemptStatusInProgress,
		Code:   fields["code"],
		Notes:  fields["notes"],
	}

	if raw, ok := fields["tab_switches"]; ok {
		if count, err := strconv.Atoi(raw); err == nil {
			state.TabSwitchCount = count
		}
	}

	if raw, ok := fields["deadline"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			deadline := time.Unix(unix, 0)
			remaining := int(deadline.Sub(s.now()) / time.Second)
			if remaining < 0 {
				remaining = 0
			}
			state.RemainingSeconds = &remaining
			state.DeadlineUnix = &unix
			s.trackDeadline(studentID, questionID, deadline)
		}
	}

	return state, nil
}

func (s *attemptService) requireActive(ctx context.Context, studentID, questionID uint) (string, error) {
	if submitted, _ := s.existingSubmissionState(ctx, studentID, questionID); submitted {
		return "", ErrAttemptFinalized
	}

	key := attemptKey(studentID, questionID)
	exists, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("check attempt state: %w", err)
	}
	if exists == 0 {
		return "", ErrAttemptNotStarted
	}

	return key, nil
}

func (s *attemptService) SaveDraft(ctx context.Context, studentID, questionID uint, code string) error {
	key, err := s.requireActive(ctx, studentID, questionID)
	if err != nil {
		return err
	}

	return s.redis.HSet(ctx, key, "code", code).Err()
}

func (s *attemptService) SaveNotes(ctx context.Context, studentID, questionID uint, notes string) error {
	key, err := s.requireActive(ctx, studentID, questionID)
	if err != nil {
		return err
	}

	return s.redis.HSet(ctx, key, "notes", notes).Err()
}

func (s *attemptService) RecordVisibility(ctx context.Context, studentID, questionID uint, hidden bool) (dto.VisibilityResponse, error) {
	key, err := s.requireActive(ctx, studentID, questionID)
	if err != nil {
		return dto.VisibilityResponse{}, err
	}

	if !hidden {
		// Returning to the page is not an integrity event.
		raw, err := s.redis.HGet(ctx, key, "tab_switches").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return dto.VisibilityResponse{}, err
		}
		count, _ := strconv.Atoi(raw)
		return dto.VisibilityResponse{TabSwitchCount: count, Elevated: count >= IntegrityElevatedThreshold}, nil
	}

	count, err := s.redis.HIncrBy(ctx, key, "tab_switches", 1).Result()
	if err != nil {
		return dto.VisibilityResponse{}, err
	}

	observability.IntegrityEvents().Inc()
	elevated := count >= IntegrityElevatedThreshold
	if elevated {
		s.logger.Warn().
			Uint("student_id", studentID).
			Uint("question_id", questionID).
			Int64("tab_switches", count).
			Msg("attempt flagged for repeated focus loss")
	}

	return dto.VisibilityResponse{TabSwitchCount: int(count), Elevated: elevated}, nil
}

func (s *attemptService) Finalize(ctx context.Context, studentID, questionID uint, trigger string, payload dto.FinalizeRequest) (dto.FinalizeResponse, error) {
	if trigger != FinalizeTriggerTimeout {
		trigger = FinalizeTriggerManual
	}

	// Finalizing an already finalized attempt reports the stored outcome
	// instead of grading again.
	if submission, err := s.submissions.GetByStudentAndQuestion(ctx, studentID, questionID); err == nil {
		duration := 0
		if submission.DurationSeconds != nil {
			duration = *submission.DurationSeconds
		}
		return dto.FinalizeResponse{
			Status:          submission.Status,
			Passed:          submission.Passed(),
			Trigger:         trigger,
			DurationSeconds: duration,
		}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn().Err(err).
			Uint("student_id", studentID).
			Uint("question_id", questionID).
			Msg("existing submission check failed, continuing with finalization")
	}

	key := attemptKey(studentID, questionID)
	if !s.beginFinalize(key) {
		return dto.FinalizeResponse{}, ErrFinalizeInProgress
	}
	defer s.endFinalize(key)

	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return dto.FinalizeResponse{}, fmt.Errorf("load attempt state: %w", err)
	}
	if len(fields) == 0 {
		return dto.FinalizeResponse{}, ErrAttemptNotStarted
	}

	// Any suspended interactive run is released before grading so a program
	// parked on input can never block finalization.
	s.terminal.ForceRelease(studentID, questionID)

	code := payload.Code
	if code == "" {
		code = fields["code"]
	}
	notes := payload.Notes
	if notes == "" {
		notes = fields["notes"]
	}
	tabSwitches, _ := strconv.Atoi(fields["tab_switches"])

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.FinalizeResponse{}, ErrQuestionNotFound
		}
		return dto.FinalizeResponse{}, err
	}

	cases, err := question.DecodedTestCases()
	if err != nil {
		s.logger.Error().Err(err).Uint("question_id", questionID).Msg("invalid test cases, grading with none")
		cases = nil
	}

	results := s.grader.Evaluate(ctx, code, cases)
	status := models.SubmissionStatusFailed
	if AllPassed(results) {
		status = models.SubmissionStatusPassed
	}

	duration := 0
	if raw, ok := fields["started_at"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			duration = int(s.now().Sub(time.Unix(unix, 0)) / time.Second)
			if duration < 0 {
				duration = 0
			}
		}
	}

	submission := models.Submission{
		StudentID:       studentID,
		QuestionID:      questionID,
		Code:            code,
		Status:          status,
		DurationSeconds: &duration,
		Notes:           notes,
		TabSwitchCount:  tabSwitches,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		// The attempt state is kept so a retry can deliver the submission.
		s.logger.Error().Err(err).
			Uint("student_id", studentID).
			Uint("question_id", questionID).
			Msg("failed to store submission")
		return dto.FinalizeResponse{}, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishFinalized(ctx, submission, trigger); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("finalized event not delivered")
		}
	}

	// The attempt hash is cleared in one shot once the submission is stored,
	// mirroring the all-or-nothing cleanup of the client's local state.
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to clear attempt state")
	}

	s.forgetDeadline(studentID, questionID)
	s.terminal.Reset(studentID, questionID)

	observability.Finalizations().WithLabelValues(trigger, status).Inc()
	s.logger.Info().
		Uint("student_id", studentID).
		Uint("question_id", questionID).
		Str("trigger", trigger).
		Str("status", status).
		Int("duration_seconds", duration).
		Msg("attempt finalized")

	response := dto.FinalizeResponse{
		Status:          status,
		Passed:          status == models.SubmissionStatusPassed,
		Trigger:         trigger,
		DurationSeconds: duration,
	}
	for _, result := range results {
		response.Results = append(response.Results, dto.TestResultPayload{
			Index:    result.Index,
			Passed:   result.Passed,
			Inputs:   result.Inputs,
			TestCode: result.TestCode,
			Expected: result.Expected,
			Actual:   result.Actual,
			Error:    result.Err,
		})
	}

	return response, nil
}

func (s *attemptService) beginFinalize(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalizing[key] {
		return false
	}
	s.finalizing[key] = true
	return true
}

func (s *attemptService) endFinalize(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.finalizing, key)
}

func (s *attemptService) trackDeadline(studentID, questionID uint, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[attemptKey(studentID, questionID)] = attemptDeadline{
		studentID:  studentID,
		questionID: questionID,
		deadline:   deadline,
	}
}

func (s *attemptService) forgetDeadline(studentID, questionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, attemptKey(studentID, questionID))
}

func (s *attemptService) expiredDeadlines() []attemptDeadline {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []attemptDeadline
	for key, entry := range s.deadlines {
		if !entry.deadline.After(now) {
			expired = append(expired, entry)
			delete(s.deadlines, key)
		}
	}
	return expired
}

// recoverDeadlines rebuilds the in-memory deadline map from redis so attempts
// that expired while the process was down still get timeout-finalized.
func (s *attemptService) recoverDeadlines(ctx context.Context) {
	iter := s.redis.Scan(ctx, 0, "attempt:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		var studentID, questionID uint
		if _, err := fmt.Sscanf(key, "attempt:%d:%d", &studentID, &questionID); err != nil {
			continue
		}

		raw, err := s.redis.HGet(ctx, key, "deadline").Result()
		if err != nil {
			// Attempts without a time limit carry no deadline field.
			continue
		}
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}

		s.trackDeadline(studentID, questionID, time.Unix(unix, 0))
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("deadline recovery scan failed")
	}
}

func (s *attemptService) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}

	s.recoverDeadlines(ctx)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range s.expiredDeadlines() {
				if _, err := s.Finalize(ctx, entry.studentID, entry.questionID, FinalizeTriggerTimeout, dto.FinalizeRequest{}); err != nil {
					s.logger.Error().Err(err).
						Uint("student_id", entry.studentID).
						Uint("question_id", entry.questionID).
						Msg("timeout finalization failed")
				}
			}
		}
	}
}
