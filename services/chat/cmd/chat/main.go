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

	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/reasoning"
	"docchat/pkg/retrieval"
	"docchat/pkg/store"
	"docchat/services/chat/internal/app"
	"docchat/services/chat/internal/config"
	"docchat/services/chat/internal/server"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "chat", cfg.LogsDir)
	defer cleanup()

	generator, err := newGenerator(cfg)
	if err != nil {
		util.Fatal(logger, "failed to init generator", "provider", cfg.GenerationProvider, "err", err)
	}
	embedder, dim, err := newEmbedder(cfg)
	if err != nil {
		util.Fatal(logger, "failed to init embedder", "provider", cfg.EmbeddingProvider, "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(dim))
	if err != nil {
		util.Fatal(logger, "failed to init store", "err", err)
	}

	engine := retrieval.NewEngine(dataStore, embedder,
		retrieval.WithFallbackScore(cfg.FallbackScore),
		retrieval.WithLogger(logger),
	)
	appCore, err := app.New(app.Config{
		Store:        dataStore,
		Generator:    generator,
		Retriever:    engine,
		TopK:         cfg.TopK,
		MinChunks:    cfg.MinChunks,
		HistoryLimit: cfg.HistoryLimit,
		SplitterOpts: []reasoning.Option{reasoning.WithMarkers(cfg.ReasoningStartTag, cfg.ReasoningEndTag)},
		Logger:       logger,
	})
	if err != nil {
		util.Fatal(logger, "failed to init app", "err", err)
	}

	serverCfg := server.Config{App: appCore}
	if cfg.ChatRateLimit > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "docchat:ratelimit:chat",
			cfg.ChatRateLimit, time.Duration(cfg.ChatRateWindowS)*time.Second)
		if err != nil {
			util.Fatal(logger, "failed to init chat rate limiter", "err", err)
		}
		defer limiter.Close()
		serverCfg.TurnLimiter = limiter
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// generation streams stay open until the model finishes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("chat server listening", "addr", addr, "generation", cfg.GenerationProvider, "model", cfg.GenerationModel)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.StreamGenerator, error) {
	switch cfg.GenerationProvider {
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.GenerationBaseURL), cfg.GenerationModel, cfg.OllamaKeepAlive), nil
	case "openai":
		return ai.NewOpenAIGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel), nil
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.GenerationProvider)
	}
}

// newEmbedder must match the indexer's provider and model so query vectors
// live in the same space as the stored chunk vectors.
func newEmbedder(cfg config.FileConfig) (ai.Embedder, int, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		return ai.NewOllamaEmbedder(ai.NewOllamaClient(cfg.EmbeddingBaseURL), cfg.EmbeddingModel, cfg.EmbeddingDim), cfg.EmbeddingDim, nil
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
