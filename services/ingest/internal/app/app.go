package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/extract"
	"docchat/pkg/queue"
	"docchat/pkg/storage"
	"docchat/pkg/store"
	"docchat/pkg/textproc"
)

// JobEnqueuer hands a ready document to the embedding worker.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, documentID, source string) (queue.JobStatus, error)
}

// Config holds runtime configuration.
type Config struct {
	Store     store.Store
	Storage   storage.DocumentStorage
	Extractor extract.Extractor
	Jobs      JobEnqueuer

	ChunkSize         int
	ChunkOverlap      int
	ProgressInterval  time.Duration
	MaxFileSize       int64
	AllowedMediaTypes []string
	Concurrency       int
	Logger            *slog.Logger
}

// Upload is a validated-on-entry file destined for a conversation.
type Upload struct {
	ConversationID string
	Filename       string
	MediaType      string
	Size           int64
	Data           []byte
}

// App runs document ingestion.
type App struct {
	store     store.Store
	storage   storage.DocumentStorage
	extractor extract.Extractor
	jobs      JobEnqueuer
	pool      *ants.Pool
	logger    *slog.Logger

	chunkSize        int
	chunkOverlap     int
	progressInterval time.Duration
	maxFileSize      int64
	allowed          map[string]bool
}

// New constructs the ingest service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 500
	}
	if err := textproc.ValidateChunking(cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 20 << 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create ingestion pool: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedMediaTypes))
	for _, mt := range cfg.AllowedMediaTypes {
		allowed[extract.NormalizeMediaType(mt)] = true
	}
	return &App{
		store:            cfg.Store,
		storage:          cfg.Storage,
		extractor:        cfg.Extractor,
		jobs:             cfg.Jobs,
		pool:             pool,
		logger:           logger.With("component", "ingest"),
		chunkSize:        cfg.ChunkSize,
		chunkOverlap:     cfg.ChunkOverlap,
		progressInterval: cfg.ProgressInterval,
		maxFileSize:      cfg.MaxFileSize,
		allowed:          allowed,
	}, nil
}

// Close waits up to timeout for in-flight runs.
func (a *App) Close(timeout time.Duration) error {
	return a.pool.ReleaseTimeout(timeout)
}

// MaxFileSize is the upload limit in bytes.
func (a *App) MaxFileSize() int64 {
	return a.maxFileSize
}

// Ingest validates the upload, creates the document and starts its run.
// A rejected upload returns *ValidationError and creates nothing.
func (a *App) Ingest(ctx context.Context, up Upload) (*Run, error) {
	conversationID := strings.TrimSpace(up.ConversationID)
	if conversationID == "" {
		return nil, invalid(CodeChatNotFound, "conversation id required")
	}
	if _, ok, err := a.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	} else if !ok {
		return nil, invalid(CodeChatNotFound, "conversation %s not found", conversationID)
	}
	if up.Data == nil && up.Size == 0 {
		return nil, invalid(CodeNoFile, "no file provided")
	}
	size := max(up.Size, int64(len(up.Data)))
	if size > a.maxFileSize {
		return nil, invalid(CodeFileTooLarge, "file exceeds %d MB limit", a.maxFileSize>>20)
	}
	mediaType, format, ok := a.resolveType(up.MediaType, up.Filename)
	if !ok {
		return nil, invalid(CodeInvalidFileType, "file type %q is not supported", up.MediaType)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               util.NewID(),
		ConversationID:   conversationID,
		Name:             up.Filename,
		Format:           format,
		MediaType:        mediaType,
		FileSize:         size,
		ProcessingStatus: domain.StatusUploading,
		EmbeddingStatus:  domain.EmbeddingNotStarted,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	run := newRun(doc)
	if err := a.pool.Submit(func() { a.execute(run, doc, up.Data) }); err != nil {
		_ = a.store.TransitionDocument(ctx, doc.ID, domain.StatusUploading, domain.StatusError, err.Error())
		return nil, fmt.Errorf("schedule ingestion: %w", err)
	}
	a.logger.Info("ingestion started", "document_id", doc.ID, "name", doc.Name, "format", doc.Format, "size", size)
	return run, nil
}

// resolveType checks the declared media type against the allow-list. Generic
// types are resolved from the file extension first.
func (a *App) resolveType(declared, filename string) (string, domain.Format, bool) {
	mediaType := extract.NormalizeMediaType(declared)
	if mediaType == "" || mediaType == "application/octet-stream" {
		format, ok := extract.FormatFor("", filename)
		if !ok {
			return "", "", false
		}
		mediaType = extract.MediaTypeFor(format)
	}
	if !a.allowed[mediaType] {
		return "", "", false
	}
	format, ok := extract.FormatFor(mediaType, filename)
	return mediaType, format, ok
}

func (a *App) ListDocuments(ctx context.Context, conversationID string) ([]domain.Document, error) {
	return a.store.ListDocumentsByConversation(ctx, conversationID)
}

func (a *App) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// OpenFile streams the stored original.
func (a *App) OpenFile(ctx context.Context, id string) (domain.Document, io.ReadCloser, error) {
	doc, err := a.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	if doc.StoragePath == "" {
		return doc, nil, ErrDocumentNotFound
	}
	rc, err := a.storage.Open(ctx, doc.StoragePath)
	if errors.Is(err, storage.ErrNotFound) {
		return doc, nil, ErrDocumentNotFound
	}
	return doc, rc, err
}

// DeleteDocument removes the stored file, the chunks and the row. Documents
// still owned by an ingestion run cannot be deleted.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	doc, err := a.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !doc.ProcessingStatus.IsTerminal() || doc.EmbeddingStatus == domain.EmbeddingGenerating {
		return ErrDocumentBusy
	}
	if doc.StoragePath != "" {
		if err := a.storage.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete stored file: %w", err)
		}
	}
	if err := a.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}
	a.logger.Info("document deleted", "document_id", id)
	return nil
}
