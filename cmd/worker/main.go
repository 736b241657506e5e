package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/core/config"
	"propflow.app/assist/core/db"
	"propflow.app/assist/internal/memory"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
	"propflow.app/assist/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "assist worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.Group,
		"consumer_name", cfg.Pipeline.Consumer)

	// Different node ID than the server so snowflakes never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected",
		"usage_stream", cfg.Pipeline.UsageStream,
		"memory_stream", cfg.Pipeline.MemoryStream)

	stores := store.NewStores(database.Pool())

	folderCfg := cfg.SummarizerLLM
	if !folderCfg.Enabled() {
		folderCfg = cfg.ChatLLM
	}
	folderClient, err := llm.New(llm.Config{
		Provider:        folderCfg.Provider,
		APIKey:          folderCfg.APIKey,
		BaseURL:         folderCfg.BaseURL,
		Model:           folderCfg.Model,
		ReasoningEffort: llm.ReasoningEffort(folderCfg.ReasoningEffort),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize llm", "error", err)
		os.Exit(1)
	}

	folder := memory.NewFolder(stores.Messages(), stores.Profiles(), folderClient)
	processor := worker.NewTaskProcessor(stores.Usage(), folder)

	workers := make([]*worker.Worker, 0, 2)
	for _, stream := range []struct {
		name   string
		suffix string
	}{
		{name: cfg.Pipeline.UsageStream, suffix: "-usage"},
		{name: cfg.Pipeline.MemoryStream, suffix: "-memory"},
	} {
		consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
			Stream:       stream.name,
			Group:        cfg.Pipeline.Group,
			Consumer:     cfg.Pipeline.Consumer + stream.suffix,
			DLQStream:    cfg.Pipeline.DLQStream,
			BatchSize:    1, // Process one task at a time
			Block:        5 * time.Second,
			MaxAttempts:  3,
			RequeueDelay: time.Second,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create consumer", "error", err, "stream", stream.name)
			os.Exit(1)
		}
		workers = append(workers, worker.New(consumer, processor, worker.Config{
			MaxAttempts: 3,
		}))
	}

	errCh := make(chan error, len(workers))
	for _, w := range workers {
		go func(w *worker.Worker) {
			errCh <- w.Run(ctx)
		}(w)
	}

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}

	remaining := len(workers)
	for remaining > 0 {
		select {
		case <-shutdownCtx.Done():
			slog.WarnContext(ctx, "shutdown timeout exceeded")
			remaining = 0
		case err := <-errCh:
			if err != nil {
				slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
			}
			remaining--
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
