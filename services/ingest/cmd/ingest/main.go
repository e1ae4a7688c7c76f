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
	"docchat/pkg/extract"
	"docchat/pkg/queue"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/services/ingest/internal/app"
	"docchat/services/ingest/internal/config"
	"docchat/services/ingest/internal/server"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "ingest", cfg.LogsDir)
	defer cleanup()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
	if err != nil {
		util.Fatal(logger, "failed to init store", "err", err)
	}

	files, err := newStorage(cfg)
	if err != nil {
		util.Fatal(logger, "failed to init storage", "backend", cfg.StorageBackend, "err", err)
	}

	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		util.Fatal(logger, "failed to init embedding queue", "err", err)
	}
	defer jobs.Close()

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Storage:           files,
		Extractor:         &extract.Default{DisablePdftotext: cfg.DisablePdftotext},
		Jobs:              jobs,
		ChunkSize:         cfg.ChunkSize,
		ChunkOverlap:      cfg.ChunkOverlap,
		ProgressInterval:  time.Duration(cfg.ProgressThrottleMs) * time.Millisecond,
		MaxFileSize:       int64(cfg.MaxFileSizeMB) << 20,
		AllowedMediaTypes: cfg.AllowedMediaTypes,
		Concurrency:       cfg.IngestConcurrency,
		Logger:            logger,
	})
	if err != nil {
		util.Fatal(logger, "failed to init app", "err", err)
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal(logger, "invalid trusted proxies", "err", err)
	}
	serverCfg := server.Config{App: appCore, TrustedProxies: proxies}
	if cfg.UploadRateLimit > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "docchat:ratelimit:upload",
			cfg.UploadRateLimit, time.Duration(cfg.UploadRateWindowS)*time.Second)
		if err != nil {
			util.Fatal(logger, "failed to init upload rate limiter", "err", err)
		}
		defer limiter.Close()
		serverCfg.UploadLimiter = limiter
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 60 * time.Second,
		// progress streams stay open for the whole run
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

	slog.Info("ingest server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
	if err := appCore.Close(30 * time.Second); err != nil {
		logger.Warn("ingestion runs still in flight at shutdown", "err", err)
	}
}

func newStorage(cfg config.FileConfig) (storage.DocumentStorage, error) {
	if cfg.StorageBackend == "minio" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.StorageDir)
}
