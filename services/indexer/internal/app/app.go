package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/queue"
	"docchat/pkg/store"
)

const (
	// DefaultBatchSize is the number of chunks embedded concurrently per batch.
	DefaultBatchSize = 10
	// DefaultStaleAfter bounds how long a generating status is trusted.
	DefaultStaleAfter = 15 * time.Minute
)

// JobQueue is the part of the Redis job queue the indexer drives.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID, source string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
}

// Config holds runtime dependencies.
type Config struct {
	Store     store.Store
	Embedder  ai.Embedder
	Jobs      JobQueue
	BatchSize int
	// Dimension, when set, rejects vectors of any other length.
	Dimension int
	// StaleAfter is how long a document may sit in generating before
	// RetryPending treats its run as dead.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// App generates and stores chunk embeddings.
type App struct {
	store     store.Store
	embedder  ai.Embedder
	model     string
	jobs      JobQueue
	batchSize  int
	dim        int
	staleAfter time.Duration
	logger     *slog.Logger
}

// New constructs the indexer core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	model := ""
	if namer, ok := cfg.Embedder.(ai.ModelNamer); ok {
		model = namer.ModelName()
	}
	return &App{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		model:     model,
		jobs:      cfg.Jobs,
		batchSize:  batch,
		dim:        cfg.Dimension,
		staleAfter: staleAfter,
		logger:     logger.With("component", "embedding-worker"),
	}, nil
}

// EmbedDocument embeds every chunk of a ready document. Batches run one after
// another; chunks inside a batch are embedded concurrently. The first failure
// stops the remaining batches and marks the document failed. Vectors already
// written stay in place and are overwritten by the next run.
//
// Any embedding status is accepted, including generating: a run whose worker
// died is taken over by the redelivered job. Overlapping runs write the same
// vectors, so the last one wins.
func (a *App) EmbedDocument(ctx context.Context, documentID string) error {
	doc, ok, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return ErrDocumentNotFound
	}
	if !doc.CanStartEmbedding() {
		return fmt.Errorf("%w: processing=%s embedding=%s", ErrDocumentNotReady, doc.ProcessingStatus, doc.EmbeddingStatus)
	}
	logger := a.logger.With("document_id", documentID)
	if err := a.store.SetEmbeddingStatus(ctx, documentID, domain.EmbeddingGenerating, ""); err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}

	if err := a.embedChunks(ctx, documentID); err != nil {
		logger.Error("embedding generation failed", "err", err)
		// the run context may be gone already; the status must still land
		if serr := a.store.SetEmbeddingStatus(context.WithoutCancel(ctx), documentID, domain.EmbeddingFailed, err.Error()); serr != nil {
			logger.Error("record embedding failure", "err", serr)
		}
		return err
	}
	if err := a.store.SetEmbeddingStatus(ctx, documentID, domain.EmbeddingCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	logger.Info("embeddings generated")
	return nil
}

func (a *App) embedChunks(ctx context.Context, documentID string) error {
	chunks, err := a.store.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return errors.New("document has no chunks")
	}
	for start := 0; start < len(chunks); start += a.batchSize {
		end := min(start+a.batchSize, len(chunks))
		if err := a.embedBatch(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("batch at chunk %d: %w", start, err)
		}
	}
	return nil
}

func (a *App) embedBatch(ctx context.Context, batch []domain.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range batch {
		g.Go(func() error {
			vec, err := a.embedder.EmbedText(gctx, chunk.Content, ai.TaskRetrievalDocument)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunk.ChunkIndex, err)
			}
			if a.dim > 0 && len(vec) != a.dim {
				return fmt.Errorf("chunk %d: embedding dimension mismatch: got %d, want %d", chunk.ChunkIndex, len(vec), a.dim)
			}
			if err := a.store.SetChunkEmbedding(gctx, chunk.ID, vec, a.model); err != nil {
				return fmt.Errorf("store chunk %d: %w", chunk.ChunkIndex, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// HandleJob is the queue handler. Jobs for documents that vanished or are not
// embeddable are dropped rather than retried.
func (a *App) HandleJob(ctx context.Context, job queue.JobStatus) error {
	err := a.EmbedDocument(ctx, job.DocumentID)
	if errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrDocumentNotReady) {
		a.logger.Warn("skip embedding job", "job_id", job.ID, "document_id", job.DocumentID, "err", err)
		return nil
	}
	return err
}

// Enqueue schedules embedding for one document.
func (a *App) Enqueue(ctx context.Context, documentID, source string) (queue.JobStatus, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return queue.JobStatus{}, errors.New("documentId required")
	}
	if a.jobs == nil {
		return queue.JobStatus{}, errors.New("job queue not configured")
	}
	doc, ok, err := a.store.GetDocument(ctx, documentID)
	if err != nil {
		return queue.JobStatus{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return queue.JobStatus{}, ErrDocumentNotFound
	}
	if doc.ProcessingStatus != domain.StatusReady {
		return queue.JobStatus{}, fmt.Errorf("%w: processing=%s", ErrDocumentNotReady, doc.ProcessingStatus)
	}
	return a.jobs.Enqueue(ctx, documentID, source)
}

// GetJob returns a job by ID.
func (a *App) GetJob(ctx context.Context, id string) (queue.JobStatus, error) {
	if a.jobs == nil {
		return queue.JobStatus{}, ErrJobNotFound
	}
	job, ok, err := a.jobs.GetJob(ctx, id)
	if err != nil {
		return queue.JobStatus{}, err
	}
	if !ok {
		return queue.JobStatus{}, ErrJobNotFound
	}
	return job, nil
}

// RetryPending enqueues every ready document whose embeddings never started,
// failed, or have been generating for longer than StaleAfter.
// Enqueue failures are logged and skipped so one bad document does not block the rest.
func (a *App) RetryPending(ctx context.Context) ([]queue.JobStatus, error) {
	docs, err := a.store.ListDocumentsPendingEmbedding(ctx, time.Now().Add(-a.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	jobs := make([]queue.JobStatus, 0, len(docs))
	for _, doc := range docs {
		job, err := a.Enqueue(ctx, doc.ID, queue.SourceRetry)
		if err != nil {
			a.logger.Warn("enqueue retry failed", "document_id", doc.ID, "err", err)
			continue
		}
		jobs = append(jobs, job)
	}
	a.logger.Info("embedding retry enqueued", "pending", len(docs), "enqueued", len(jobs))
	return jobs, nil
}
