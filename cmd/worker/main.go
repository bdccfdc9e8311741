package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/speechd/asr-gateway/internal/config"
	"github.com/speechd/asr-gateway/internal/queue"
	"github.com/speechd/asr-gateway/internal/queue/workers"
	"github.com/speechd/asr-gateway/internal/upload"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
		},
	)

	store := upload.NewStore(cfg.Upload.StagingRoot)
	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	registry := queue.NewHandlersRegistry()
	sweeper := workers.NewSessionSweeper(store, queueClient, cfg.Upload.SessionTTL)
	registry.Register(queue.TypeSessionSweep, asynq.HandlerFunc(sweeper.ProcessTask))

	slog.Info("starting worker", "session_ttl", cfg.Upload.SessionTTL.String())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
