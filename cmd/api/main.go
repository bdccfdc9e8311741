package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/speechd/asr-gateway/internal/api"
	"github.com/speechd/asr-gateway/internal/asr"
	"github.com/speechd/asr-gateway/internal/config"
	"github.com/speechd/asr-gateway/internal/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database connection, optional: only the audit trail needs it.
	var db *pgxpool.Pool
	if cfg.Database.URL != "" {
		db, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Warn("database unavailable, running without audit trail", "error", err)
			db = nil
		} else {
			defer db.Close()
			if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
				slog.Warn("migrations failed", "error", err)
			}
		}
	}

	// Redis connection, optional: backs the result cache and session sweep.
	var rdb *redis.Client
	candidate := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := candidate.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, running without cache and session sweep", "error", err)
		candidate.Close()
	} else {
		rdb = candidate
		defer rdb.Close()
	}

	// The recognizer handle is constructed exactly once here and injected;
	// it is shared read-only for the life of the process.
	rec := newRecognizer(cfg.ASR)
	slog.Info("recognition backend ready", "backend", rec.Name())

	router := api.NewRouter(db, rdb, cfg, rec)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ASR.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func newRecognizer(cfg config.ASRConfig) asr.Recognizer {
	switch cfg.Backend {
	case "openai":
		return asr.NewOpenAIRecognizer(asr.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
	default:
		return asr.NewFunASRRecognizer(asr.FunASRConfig{
			BaseURL: cfg.FunASRBaseURL,
			Timeout: cfg.Timeout,
		})
	}
}
