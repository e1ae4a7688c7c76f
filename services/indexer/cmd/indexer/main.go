package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/queue"
	"docchat/pkg/store"
	"docchat/services/indexer/internal/app"
	"docchat/services/indexer/internal/config"
	"docchat/services/indexer/internal/server"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "indexer", cfg.LogsDir)
	defer cleanup()

	embedder, dim, err := newEmbedder(cfg)
	if err != nil {
		util.Fatal(logger, "failed to init embedder", "provider", cfg.EmbeddingProvider, "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(dim))
	if err != nil {
		util.Fatal(logger, "failed to init store", "err", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		Consumer:   util.NewID(),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal(logger, "failed to init embedding queue", "err", err)
	}
	defer jobs.Close()

	appCore, err := app.New(app.Config{
		Store:      dataStore,
		Embedder:   embedder,
		Jobs:       jobs,
		BatchSize:  cfg.EmbeddingBatchSize,
		Dimension:  dim,
		StaleAfter: time.Duration(cfg.EmbeddingStaleMinutes) * time.Minute,
		Logger:     logger,
	})
	if err != nil {
		util.Fatal(logger, "failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	jobs.Start(ctx, cfg.QueueConcurrency, appCore.HandleJob)

	httpServer := server.New(server.Config{App: appCore})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("indexer server listening", "addr", addr, "provider", cfg.EmbeddingProvider, "model", cfg.EmbeddingModel)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func newEmbedder(cfg config.FileConfig) (ai.Embedder, int, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		client := ai.NewOllamaClient(cfg.EmbeddingBaseURL)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim), cfg.EmbeddingDim, nil
	case "openai":
		return ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim), cfg.EmbeddingDim, nil
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, 0, err
		}
		dim := cfg.EmbeddingDim
		if dim <= 0 {
			dim = 768
		}
		return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel), dim, nil
	default:
		return nil, 0, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}
}
