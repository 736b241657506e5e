package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/common/otel"
	"propflow.app/assist/common/search"
	"propflow.app/assist/core/config"
	"propflow.app/assist/core/db"
	"propflow.app/assist/internal/brain"
	"propflow.app/assist/internal/capability"
	"propflow.app/assist/internal/http/middleware"
	httprouter "propflow.app/assist/internal/http/router"
	"propflow.app/assist/internal/intent"
	"propflow.app/assist/internal/memory"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "assist starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
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

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.UsageStream, cfg.Pipeline.MemoryStream, slog.Default())
	defer producer.Close()

	stores := store.NewStores(database.Pool())

	engine, err := llm.NewAgentClient(llmConfig(cfg.ChatLLM))
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize chat llm", "error", err)
		os.Exit(1)
	}

	// Classification works rules-only without a client; summarization does not
	// degrade silently, so the summarizer falls back to the chat credentials.
	var classifierClient llm.Client
	if cfg.ClassifierLLM.Enabled() {
		classifierClient, err = llm.New(llmConfig(cfg.ClassifierLLM))
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize classifier llm", "error", err)
			os.Exit(1)
		}
	} else {
		slog.WarnContext(ctx, "classifier llm not configured, using keyword rules only")
	}

	summarizerCfg := cfg.SummarizerLLM
	if !summarizerCfg.Enabled() {
		summarizerCfg = cfg.ChatLLM
	}
	summarizer, err := llm.New(llmConfig(summarizerCfg))
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize summarizer llm", "error", err)
		os.Exit(1)
	}

	var listings search.Client
	if cfg.Typesense.Enabled() {
		listings, err = search.New(search.Config{
			URL:        cfg.Typesense.URL,
			APIKey:     cfg.Typesense.APIKey,
			Collection: cfg.Typesense.Collection,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize typesense", "error", err)
			os.Exit(1)
		}
		if err := listings.EnsureCollection(ctx); err != nil {
			// Property search falls back to Postgres when Typesense misbehaves
			slog.WarnContext(ctx, "typesense collection setup failed", "error", err)
		}
		slog.InfoContext(ctx, "typesense connected", "collection", cfg.Typesense.Collection)
	} else {
		slog.InfoContext(ctx, "typesense not configured, property search uses postgres only")
	}

	registry, err := capability.BuildRegistry(database.Pool(), stores.Escalations(), listings)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build capability registry", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "capability registry ready", "capabilities", len(registry.Descriptors()))

	rules := intent.DefaultRulesConfig()
	rules.ShortMessageRunes = cfg.Assistant.ShortMessageRunes
	classifier := intent.NewClassifier(classifierClient, rules)

	compactor := memory.NewCompactor(stores.Messages(), stores.Summaries(), stores.Profiles(), summarizer, cfg.Assistant)
	foldScheduler := memory.NewFoldScheduler(stores.Profiles(), producer, cfg.Assistant)

	accountantCtx, stopAccountant := context.WithCancel(ctx)
	accountant := brain.NewAccountant(producer, cfg.Pipeline.UsageBuffer)
	accountant.Start(accountantCtx)

	orchestrator := brain.NewOrchestrator(
		engine,
		classifier,
		registry,
		compactor,
		foldScheduler,
		stores.Messages(),
		accountant,
		cfg.Assistant,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, stores, orchestrator)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: chat responses stream over SSE and the handler
		// enforces its own idle watchdog instead.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// Flush buffered usage records before the process exits
	stopAccountant()
	accountant.Wait()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, stores *store.Stores, orchestrator *brain.Orchestrator) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, stores, orchestrator, cfg.Assistant)

	return router
}

func llmConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:        cfg.Provider,
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		ReasoningEffort: llm.ReasoningEffort(cfg.ReasoningEffort),
	}
}

const banner = `
 █████╗ ███████╗███████╗██╗███████╗████████╗
██╔══██╗██╔════╝██╔════╝██║██╔════╝╚══██╔══╝
███████║███████╗███████╗██║███████╗   ██║
██╔══██║╚════██║╚════██║██║╚════██║   ██║
██║  ██║███████║███████║██║███████║   ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝╚══════╝   ╚═╝
`
