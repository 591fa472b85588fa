package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/config"
	"github.com/kodeuji/kodeuji-api/internal/database"
	"github.com/kodeuji/kodeuji-api/internal/handler"
	"github.com/kodeuji/kodeuji-api/internal/middleware"
	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/repository"
	"github.com/kodeuji/kodeuji-api/internal/router"
	"github.com/kodeuji/kodeuji-api/internal/service"
	"github.com/kodeuji/kodeuji-api/pkg/ai"
	"github.com/kodeuji/kodeuji-api/pkg/interp"
	"github.com/kodeuji/kodeuji-api/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Student{}, &models.Lecturer{}, &models.Question{}, &models.Submission{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var publisher service.SubmissionPublisher
	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
		publisher = service.NewNATSSubmissionPublisher(natsConn, logger)
	} else {
		logger.Warn().Msg("nats url not configured, finalized submission events disabled")
	}

	var runner sandbox.Runner
	dockerRunner, err := sandbox.NewDockerRunner(sandbox.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("docker unavailable, sandbox verification disabled")
	} else {
		runner = dockerRunner
		defer dockerRunner.Close()
	}

	var reviewer ai.Reviewer
	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey != "" {
		reviewer, err = ai.NewOpenAIReviewer(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err != nil {
			log.Fatalf("failed to create openai reviewer: %v", err)
		}
	} else {
		logger.Warn().Msg("ai reviewer not configured, feedback suggestions disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	engine := interp.NewLuaEngine()

	studentRepo := repository.NewStudentRepository(db)
	lecturerRepo := repository.NewLecturerRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	grader := service.NewGrader(engine, logger)
	terminal := service.NewTerminalService(engine, logger)
	authService := service.NewAuthService(studentRepo, lecturerRepo, validate, service.AuthConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.JWTTTL,
	}, logger)
	questionService := service.NewQuestionService(questionRepo, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, questionRepo, reviewer, validate, logger)
	verifyService := service.NewVerifyService(submissionRepo, questionRepo, runner, service.VerifyConfig{
		Image:         cfg.SandboxImage,
		MemoryLimitMB: cfg.CodeRunMemoryMB,
		CPUShares:     cfg.CodeRunCPUShares,
	}, logger)
	attemptService := service.NewAttemptService(questionRepo, submissionRepo, redisClient, grader, terminal, publisher, logger)

	authHandler := handler.NewAuthHandler(authService, logger)
	questionHandler := handler.NewQuestionHandler(questionService, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, verifyService, logger)
	attemptHandler := handler.NewAttemptHandler(attemptService, terminal, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:       authHandler,
		QuestionHandler:   questionHandler,
		SubmissionHandler: submissionHandler,
		AttemptHandler:    attemptHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go attemptService.Run(heartbeatCtx, cfg.AttemptTick)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
