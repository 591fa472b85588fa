package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
	"github.com/kodeuji/kodeuji-api/pkg/interp"
)

type attemptFixture struct {
	service     *attemptService
	db          *gorm.DB
	redis       *miniredis.Miniredis
	student     models.Student
	question    models.Question
	publisher   *recordingPublisher
	currentTime time.Time
}

type recordingPublisher struct {
	events []SubmissionFinalizedEvent
}

func (p *recordingPublisher) PublishFinalized(_ context.Context, submission models.Submission, trigger string) error {
	p.events = append(p.events, SubmissionFinalizedEvent{
		SubmissionID: submission.ID,
		StudentID:    submission.StudentID,
		QuestionID:   submission.QuestionID,
		Status:       submission.Status,
		Trigger:      trigger,
	})
	return nil
}

func mustJSON(t *testing.T, cases []models.TestCase) datatypes.JSON {
	t.Helper()
	encoded, err := json.Marshal(cases)
	require.NoError(t, err)
	return datatypes.JSON(encoded)
}

func newAttemptFixture(t *testing.T, timeLimitMinutes *int, cases []models.TestCase) *attemptFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:attempt_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Lecturer{}, &models.Question{}, &models.Submission{}))

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	lecturer := models.Lecturer{Name: "Dosen", Email: "dosen@example.ac.id", Password: "hash"}
	require.NoError(t, db.Create(&lecturer).Error)
	student := models.Student{Name: "Ada", NIM: "2211001", Password: "hash"}
	require.NoError(t, db.Create(&student).Error)

	question := models.Question{
		LecturerID:       lecturer.ID,
		Title:            "Penjumlahan",
		Description:      "Tulis fungsi tambah.",
		StarterCode:      "-- tulis kode di sini",
		TimeLimitMinutes: timeLimitMinutes,
		TestCases:        mustJSON(t, cases),
	}
	require.NoError(t, db.Create(&question).Error)

	publisher := &recordingPublisher{}
	engine := interp.NewLuaEngine()
	svc := NewAttemptService(
		repository.NewQuestionRepository(db),
		repository.NewSubmissionRepository(db),
		redisClient,
		NewGrader(engine, zerolog.Nop()),
		NewTerminalService(engine, zerolog.Nop()),
		publisher,
		zerolog.Nop(),
	).(*attemptService)

	fixture := &attemptFixture{
		service:     svc,
		db:          db,
		redis:       mr,
		student:     student,
		question:    question,
		publisher:   publisher,
		currentTime: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}
	svc.now = func() time.Time { return fixture.currentTime }

	return fixture
}

func TestAttemptStartSeedsStateAndDeadline(t *testing.T) {
	limit := 30
	fx := newAttemptFixture(t, &limit, nil)
	ctx := context.Background()

	state, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptStatusInProgress, state.Status)
	require.Equal(t, "-- tulis kode di sini", state.Code)
	require.False(t, state.HasSubmitted)
	require.NotNil(t, state.RemainingSeconds)
	require.Equal(t, 30*60, *state.RemainingSeconds)
}

func TestAttemptStartIsIdempotentAcrossReloads(t *testing.T) {
	limit := 10
	fx := newAttemptFixture(t, &limit, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	require.NoError(t, fx.service.SaveDraft(ctx, fx.student.ID, fx.question.ID, "print(1)"))
	require.NoError(t, fx.service.SaveNotes(ctx, fx.student.ID, fx.question.ID, "catatan"))

	// Five minutes later the page reloads and calls start again. The draft
	// survives and the countdown continues from the original start.
	fx.currentTime = fx.currentTime.Add(5 * time.Minute)
	state, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, "print(1)", state.Code)
	require.Equal(t, "catatan", state.Notes)
	require.Equal(t, 5*60, *state.RemainingSeconds)
}

func TestAttemptRemainingSecondsNeverNegative(t *testing.T) {
	limit := 1
	fx := newAttemptFixture(t, &limit, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	fx.currentTime = fx.currentTime.Add(10 * time.Minute)
	state, err := fx.service.State(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, 0, *state.RemainingSeconds)
}

func TestAttemptStateNotStarted(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)

	state, err := fx.service.State(context.Background(), fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptStatusNotStarted, state.Status)
}

func TestAttemptDraftRequiresStart(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)

	err := fx.service.SaveDraft(context.Background(), fx.student.ID, fx.question.ID, "x = 1")
	require.ErrorIs(t, err, ErrAttemptNotStarted)
}

func TestAttemptVisibilityCountsOnlyHiddenTransitions(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		resp, err := fx.service.RecordVisibility(ctx, fx.student.ID, fx.question.ID, true)
		require.NoError(t, err)
		require.Equal(t, i, resp.TabSwitchCount)
		require.False(t, resp.Elevated)
	}

	resp, err := fx.service.RecordVisibility(ctx, fx.student.ID, fx.question.ID, false)
	require.NoError(t, err)
	require.Equal(t, 2, resp.TabSwitchCount)

	resp, err = fx.service.RecordVisibility(ctx, fx.student.ID, fx.question.ID, true)
	require.NoError(t, err)
	require.Equal(t, 3, resp.TabSwitchCount)
	require.True(t, resp.Elevated)
}

func TestAttemptFinalizeGradesStoresAndClears(t *testing.T) {
	cases := []models.TestCase{
		{TestCode: "print(tambah(2, 3))", ExpectedOutput: "5"},
	}
	fx := newAttemptFixture(t, nil, cases)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	fx.currentTime = fx.currentTime.Add(90 * time.Second)
	resp, err := fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{
		Code:  "function tambah(a, b) return a + b end",
		Notes: "selesai",
	})
	require.NoError(t, err)
	require.True(t, resp.Passed)
	require.Equal(t, models.SubmissionStatusPassed, resp.Status)
	require.Equal(t, 90, resp.DurationSeconds)
	require.Len(t, resp.Results, 1)

	var count int64
	require.NoError(t, fx.db.Model(&models.Submission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var stored models.Submission
	require.NoError(t, fx.db.First(&stored).Error)
	require.Equal(t, "selesai", stored.Notes)
	require.Equal(t, models.SubmissionStatusPassed, stored.Status)

	// The attempt hash is gone after finalization.
	require.False(t, fx.redis.Exists(fmt.Sprintf("attempt:%d:%d", fx.student.ID, fx.question.ID)))

	require.Len(t, fx.publisher.events, 1)
	require.Equal(t, FinalizeTriggerManual, fx.publisher.events[0].Trigger)
}

func TestAttemptFinalizeIsIdempotent(t *testing.T) {
	cases := []models.TestCase{
		{TestCode: "print(tambah(1, 1))", ExpectedOutput: "2"},
	}
	fx := newAttemptFixture(t, nil, cases)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	first, err := fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{
		Code: "function tambah(a, b) return a + b end",
	})
	require.NoError(t, err)

	second, err := fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{})
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.Passed, second.Passed)

	var count int64
	require.NoError(t, fx.db.Model(&models.Submission{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.Len(t, fx.publisher.events, 1)
}

func TestAttemptFinalizeFailsTestsHonestly(t *testing.T) {
	cases := []models.TestCase{
		{TestCode: "print(tambah(2, 2))", ExpectedOutput: "5"},
	}
	fx := newAttemptFixture(t, nil, cases)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	resp, err := fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{
		Code: "function tambah(a, b) return a + b end",
	})
	require.NoError(t, err)
	require.False(t, resp.Passed)
	require.Equal(t, models.SubmissionStatusFailed, resp.Status)
	require.Equal(t, "4", resp.Results[0].Actual)
	require.Equal(t, 1, resp.Results[0].Index)
}

func TestAttemptFinalizeZeroCasesPasses(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	resp, err := fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{Code: "print(1)"})
	require.NoError(t, err)
	require.True(t, resp.Passed)
	require.Empty(t, resp.Results)
}

func TestAttemptFinalizeRequiresStart(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)

	_, err := fx.service.Finalize(context.Background(), fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{})
	require.ErrorIs(t, err, ErrAttemptNotStarted)
}

func TestAttemptMutationsFrozenAfterFinalize(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	_, err = fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{Code: "x = 1"})
	require.NoError(t, err)

	require.ErrorIs(t, fx.service.SaveDraft(ctx, fx.student.ID, fx.question.ID, "late"), ErrAttemptFinalized)
	require.ErrorIs(t, fx.service.SaveNotes(ctx, fx.student.ID, fx.question.ID, "late"), ErrAttemptFinalized)
	_, err = fx.service.RecordVisibility(ctx, fx.student.ID, fx.question.ID, true)
	require.ErrorIs(t, err, ErrAttemptFinalized)
}

func TestAttemptStartReturnsFinalizedStateAfterSubmission(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	_, err = fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerManual, dto.FinalizeRequest{Code: "jawaban = 42"})
	require.NoError(t, err)

	state, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptStatusFinalized, state.Status)
	require.True(t, state.HasSubmitted)
	require.Equal(t, "jawaban = 42", state.Code)
}

func TestAttemptExpiredDeadlinesFireExactlyOnce(t *testing.T) {
	limit := 1
	fx := newAttemptFixture(t, &limit, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	require.Empty(t, fx.service.expiredDeadlines())

	fx.currentTime = fx.currentTime.Add(2 * time.Minute)
	expired := fx.service.expiredDeadlines()
	require.Len(t, expired, 1)
	require.Equal(t, fx.student.ID, expired[0].studentID)

	// The entry is consumed; a second sweep sees nothing.
	require.Empty(t, fx.service.expiredDeadlines())

	_, err = fx.service.Finalize(ctx, fx.student.ID, fx.question.ID, FinalizeTriggerTimeout, dto.FinalizeRequest{})
	require.NoError(t, err)
	require.Equal(t, FinalizeTriggerTimeout, fx.publisher.events[0].Trigger)
}

func TestAttemptDeadlineRecoveryAfterRestart(t *testing.T) {
	limit := 1
	fx := newAttemptFixture(t, &limit, nil)
	ctx := context.Background()

	_, err := fx.service.Start(ctx, fx.student.ID, fx.question.ID)
	require.NoError(t, err)

	// A fresh service over the same redis simulates a process restart with an
	// empty in-memory deadline map.
	engine := interp.NewLuaEngine()
	restarted := NewAttemptService(
		fx.service.questions,
		fx.service.submissions,
		fx.service.redis,
		NewGrader(engine, zerolog.Nop()),
		NewTerminalService(engine, zerolog.Nop()),
		fx.publisher,
		zerolog.Nop(),
	).(*attemptService)
	restarted.now = fx.service.now

	fx.currentTime = fx.currentTime.Add(2 * time.Minute)
	require.Empty(t, restarted.expiredDeadlines())

	restarted.recoverDeadlines(ctx)

	expired := restarted.expiredDeadlines()
	require.Len(t, expired, 1)
	require.Equal(t, fx.student.ID, expired[0].studentID)
	require.Equal(t, fx.question.ID, expired[0].questionID)
}

type failingSubmissionRepo struct {
	repository.SubmissionRepository
}

func (r *failingSubmissionRepo) GetByStudentAndQuestion(context.Context, uint, uint) (models.Submission, error) {
	return models.Submission{}, errors.New("database unavailable")
}

func TestAttemptStartFailsOpenWhenSubmissionCheckErrors(t *testing.T) {
	fx := newAttemptFixture(t, nil, nil)
	fx.service.submissions = &failingSubmissionRepo{SubmissionRepository: fx.service.submissions}

	state, err := fx.service.Start(context.Background(), fx.student.ID, fx.question.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptStatusInProgress, state.Status)
	require.False(t, state.HasSubmitted)
}
