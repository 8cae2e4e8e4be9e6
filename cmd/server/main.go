package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/database"
	"github.com/provalivre/exam-engine/internal/events"
	"github.com/provalivre/exam-engine/internal/handler"
	"github.com/provalivre/exam-engine/internal/logger"
	"github.com/provalivre/exam-engine/internal/middleware"
	"github.com/provalivre/exam-engine/internal/repository"
	"github.com/provalivre/exam-engine/internal/router"
	"github.com/provalivre/exam-engine/internal/service"
	"github.com/provalivre/exam-engine/internal/validator"
	"github.com/provalivre/exam-engine/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("events", cfg.EventsPublisher).
		Bool("restart_after_expiry", cfg.AllowRestartAfterExpiry).
		Msg("Starting exam engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Lifecycle Events ──────────────────────────────────────────────
	pub, sub, err := events.NewPubSub(events.Config{
		Backend:      cfg.EventsPublisher,
		KafkaBrokers: cfg.KafkaBrokers,
		Topic:        cfg.EventsTopic,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event transport")
	}
	publisher := events.NewPublisher(pub, cfg.EventsTopic, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	categoryRepo := repository.NewCategoryRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	applicationRepo := repository.NewApplicationRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	resolver := service.NewRuleResolver(examRepo, questionRepo)
	categoryService := service.NewCategoryService(categoryRepo)
	questionService := service.NewQuestionService(questionRepo)
	examService := service.NewExamService(examRepo, questionRepo, resolver, log)
	applicationService := service.NewApplicationService(applicationRepo, examRepo, attemptRepo, resolver, eventRepo, log)
	attemptService := service.NewAttemptService(
		applicationRepo,
		attemptRepo,
		resolver,
		service.NewRedisAnswerBuffer(rdb, log),
		publisher,
		cfg.AllowRestartAfterExpiry,
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Health:      handler.NewHealthHandler(pool, rdb),
		Category:    handler.NewCategoryHandler(categoryService, log),
		Question:    handler.NewQuestionHandler(questionService, log),
		Exam:        handler.NewExamHandler(examService, log),
		Application: handler.NewApplicationHandler(applicationService, log),
		Attempt:     handler.NewAttemptHandler(attemptService, applicationService, log),
		Monitor:     handler.NewMonitorHandler(rdb, applicationService, log),
		WS:          handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}
	startLimiter := middleware.NewStartRateLimiter(rdb, cfg.StartRateLimit, cfg.StartRateWindow, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	autosaveWorker := worker.NewAutosaveWorker(attemptRepo, rdb, log)
	auditWorker := worker.NewAuditWorker(sub, cfg.EventsTopic, eventRepo, rdb, log)

	for _, start := range []func(context.Context){autosaveWorker.Start, auditWorker.Start} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, startLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close the publisher so no new events arrive, then let workers
	// flush their buffers and drain the autosave queue.
	if err := pub.Close(); err != nil {
		log.Error().Err(err).Msg("Event publisher close error")
	}
	workerCancel()
	workers.Wait()

	if err := sub.Close(); err != nil {
		log.Error().Err(err).Msg("Event subscriber close error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
