package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kodeuji/kodeuji-api/internal/config"
	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/internal/handler"
	"github.com/kodeuji/kodeuji-api/internal/middleware"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
	"github.com/kodeuji/kodeuji-api/internal/router"
	"github.com/kodeuji/kodeuji-api/internal/service"
	"github.com/kodeuji/kodeuji-api/pkg/interp"
)

const testSecret = "integration-secret"

func setupApp(t *testing.T) *fiber.App {
	t.Helper()

	dsn := fmt.Sprintf("file:e2e_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Lecturer{}, &models.Question{}, &models.Submission{}))

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	validate := validator.New(validator.WithRequiredStructEnabled())
	log := zerolog.New(io.Discard)
	engine := interp.NewLuaEngine()

	studentRepo := repository.NewStudentRepository(db)
	lecturerRepo := repository.NewLecturerRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	grader := service.NewGrader(engine, log)
	terminal := service.NewTerminalService(engine, log)
	authService := service.NewAuthService(studentRepo, lecturerRepo, validate, service.AuthConfig{
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
	}, log)
	questionService := service.NewQuestionService(questionRepo, validate, log)
	submissionService := service.NewSubmissionService(submissionRepo, questionRepo, nil, validate, log)
	verifyService := service.NewVerifyService(submissionRepo, questionRepo, nil, service.VerifyConfig{}, log)
	attemptService := service.NewAttemptService(questionRepo, submissionRepo, redisClient, grader, terminal, nil, log)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "KodeUji API", AppEnv: "test"}, router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(authService, log),
		QuestionHandler:   handler.NewQuestionHandler(questionService, log),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, verifyService, log),
		AttemptHandler:    handler.NewAttemptHandler(attemptService, terminal, log),
		JWTMiddleware:     middleware.JWTProtected(testSecret),
	})

	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func registerAndLogin(t *testing.T, app *fiber.App) (studentToken, lecturerToken string) {
	t.Helper()

	status, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/students/register", "", dto.StudentRegisterRequest{
		Name: "Ada", NIM: "2211001", Password: "rahasia1",
	})
	require.Equal(t, http.StatusCreated, status)
	var studentAuth dto.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &studentAuth))

	status, body = doJSON(t, app, http.MethodPost, "/api/v1/auth/lecturers/register", "", dto.LecturerRegisterRequest{
		Name: "Dosen", Email: "dosen@example.ac.id", Password: "rahasia1",
	})
	require.Equal(t, http.StatusCreated, status)
	var lecturerAuth dto.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &lecturerAuth))

	return studentAuth.Token, lecturerAuth.Token
}

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	app := setupApp(t)
	studentToken, lecturerToken := registerAndLogin(t, app)

	limit := 30
	status, body := doJSON(t, app, http.MethodPost, "/api/v1/questions/", lecturerToken, dto.QuestionRequest{
		Title:            "Penjumlahan",
		Description:      "Tulis fungsi tambah(a, b).",
		StarterCode:      "-- kode awal",
		TimeLimitMinutes: &limit,
		TestCases: []dto.TestCasePayload{
			{TestCode: "print(tambah(2, 3))", ExpectedOutput: "5"},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	var question dto.QuestionResponse
	require.NoError(t, json.Unmarshal(body.Data, &question))

	// Students cannot create questions.
	status, _ = doJSON(t, app, http.MethodPost, "/api/v1/questions/", studentToken, dto.QuestionRequest{
		Title: "Nope", Description: "x",
	})
	require.Equal(t, http.StatusForbidden, status)

	attemptBase := fmt.Sprintf("/api/v1/attempts/%d", question.ID)

	status, body = doJSON(t, app, http.MethodPost, attemptBase+"/start", studentToken, nil)
	require.Equal(t, http.StatusOK, status)
	var state dto.AttemptStateResponse
	require.NoError(t, json.Unmarshal(body.Data, &state))
	require.Equal(t, service.AttemptStatusInProgress, state.Status)
	require.Equal(t, "-- kode awal", state.Code)
	require.NotNil(t, state.RemainingSeconds)

	status, _ = doJSON(t, app, http.MethodPut, attemptBase+"/draft", studentToken, dto.DraftRequest{
		Code: "function tambah(a, b) return a + b end",
	})
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, app, http.MethodPost, attemptBase+"/visibility", studentToken, dto.VisibilityRequest{Hidden: true})
	require.Equal(t, http.StatusOK, status)
	var visibility dto.VisibilityResponse
	require.NoError(t, json.Unmarshal(body.Data, &visibility))
	require.Equal(t, 1, visibility.TabSwitchCount)

	status, body = doJSON(t, app, http.MethodPost, attemptBase+"/finalize", studentToken, dto.FinalizeRequest{})
	require.Equal(t, http.StatusOK, status)
	var finalize dto.FinalizeResponse
	require.NoError(t, json.Unmarshal(body.Data, &finalize))
	require.True(t, finalize.Passed)
	require.Equal(t, models.SubmissionStatusPassed, finalize.Status)

	// Finalize is idempotent across repeated calls.
	status, body = doJSON(t, app, http.MethodPost, attemptBase+"/finalize", studentToken, dto.FinalizeRequest{})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body.Data, &finalize))
	require.True(t, finalize.Passed)

	status, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/submissions/check/%d", question.ID), studentToken, nil)
	require.Equal(t, http.StatusOK, status)
	var check dto.CheckSubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &check))
	require.True(t, check.HasSubmitted)
	require.NotNil(t, check.Submission)
	require.Equal(t, 1, check.Submission.TabSwitchCount)

	status, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/submissions/question/%d", question.ID), lecturerToken, nil)
	require.Equal(t, http.StatusOK, status)
	var submissions []dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &submissions))
	require.Len(t, submissions, 1)

	status, body = doJSON(t, app, http.MethodPut, fmt.Sprintf("/api/v1/submissions/%d/grade", submissions[0].ID), lecturerToken, dto.GradeRequest{Grade: 95})
	require.Equal(t, http.StatusOK, status)
	var graded dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &graded))
	require.NotNil(t, graded.Grade)
	require.Equal(t, 95, *graded.Grade)
}

func TestAttemptRoutesRequireAuth(t *testing.T) {
	app := setupApp(t)

	status, _ := doJSON(t, app, http.MethodPost, "/api/v1/attempts/1/start", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}
