package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/extract"
	"docchat/pkg/progress"
	"docchat/pkg/queue"
	"docchat/pkg/textproc"
)

// Run is one ingestion of one document. Its events end with exactly one terminal event.
type Run struct {
	DocumentID string
	Name       string

	events   chan progress.Event
	detached chan struct{}
	once     sync.Once
}

func newRun(doc domain.Document) *Run {
	return &Run{
		DocumentID: doc.ID,
		Name:       doc.Name,
		events:     make(chan progress.Event, 16),
		detached:   make(chan struct{}),
	}
}

// Events is closed after the terminal event.
func (r *Run) Events() <-chan progress.Event {
	return r.events
}

// Detach stops delivery to a consumer that went away. The run itself keeps going.
func (r *Run) Detach() {
	r.once.Do(func() { close(r.detached) })
}

func (r *Run) send(ev progress.Event) {
	select {
	case r.events <- ev:
	case <-r.detached:
	}
}

// stageError is a failure inside a run with the status it happened in.
type stageError struct {
	code string
	from domain.ProcessingStatus
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(code string, from domain.ProcessingStatus, err error) error {
	return &stageError{code: code, from: from, err: err}
}

// execute drives a document from uploading to ready.
func (a *App) execute(run *Run, doc domain.Document, data []byte) {
	defer close(run.events)
	ctx := context.Background()
	logger := a.logger.With("document_id", doc.ID, "conversation_id", doc.ConversationID)
	em := progress.NewEmitter(run.send, progress.WithInterval(a.progressInterval))

	start := time.Now()
	err := a.pipeline(ctx, em, doc, data)
	if err != nil {
		var se *stageError
		if !errors.As(err, &se) {
			se = &stageError{code: CodeIndexingFailed, from: domain.StatusIndexing, err: err}
		}
		logger.Error("ingestion failed", "stage", se.from, "code", se.code, "err", se.err)
		if terr := a.store.TransitionDocument(ctx, doc.ID, se.from, domain.StatusError, se.err.Error()); terr != nil {
			logger.Warn("record ingestion failure", "err", terr)
		}
		em.Fail(se.code, se.err.Error())
		return
	}
	logger.Info("ingestion complete", "duration_ms", time.Since(start).Milliseconds())
	em.Complete(doc.ID, doc.Name)
}

func (a *App) pipeline(ctx context.Context, em *progress.Emitter, doc domain.Document, data []byte) error {
	em.Progress(string(domain.StatusUploading), 10, "Uploading file")
	key, err := a.storage.Save(ctx, doc.ConversationID, doc.ID, doc.Name, bytes.NewReader(data), int64(len(data)), doc.MediaType)
	if err != nil {
		return fail(CodeUploadFailed, domain.StatusUploading, fmt.Errorf("store file: %w", err))
	}
	if err := a.store.SetStoragePath(ctx, doc.ID, key); err != nil {
		return fail(CodeUploadFailed, domain.StatusUploading, fmt.Errorf("record storage path: %w", err))
	}
	em.Progress(string(domain.StatusUploading), 25, "File uploaded")

	if err := a.store.TransitionDocument(ctx, doc.ID, domain.StatusUploading, domain.StatusExtracting, ""); err != nil {
		return fail(CodeUploadFailed, domain.StatusUploading, err)
	}
	em.Progress(string(domain.StatusExtracting), 30, "Extracting text")
	text, err := a.extractStored(ctx, key, doc.Format, func(fraction float64, msg string) {
		em.Progress(string(domain.StatusExtracting), 30+int(fraction*30), msg)
	})
	if err != nil {
		return fail(CodeExtractionFailed, domain.StatusExtracting, err)
	}
	cleaned := textproc.Clean(text, true)
	if cleaned == "" {
		return fail(CodeExtractionFailed, domain.StatusExtracting, extract.ErrNoText)
	}
	em.Progress(string(domain.StatusExtracting), 60, "Text extracted")

	if err := a.store.TransitionDocument(ctx, doc.ID, domain.StatusExtracting, domain.StatusIndexing, ""); err != nil {
		return fail(CodeIndexingFailed, domain.StatusExtracting, err)
	}
	em.Progress(string(domain.StatusIndexing), 65, "Chunking text")
	pieces, err := textproc.Chunk(cleaned, a.chunkSize, a.chunkOverlap)
	if err != nil {
		return fail(CodeIndexingFailed, domain.StatusIndexing, err)
	}
	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, domain.Chunk{
			ID:         util.NewID(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    piece,
			CreatedAt:  now,
		})
	}
	em.Progress(string(domain.StatusIndexing), 75, fmt.Sprintf("Saving %d chunks", len(chunks)))
	if err := a.store.SaveDocumentContent(ctx, doc.ID, cleaned, chunks); err != nil {
		return fail(CodeIndexingFailed, domain.StatusIndexing, fmt.Errorf("save chunks: %w", err))
	}
	em.Progress(string(domain.StatusIndexing), 85, "Chunks saved")

	if err := a.store.TransitionDocument(ctx, doc.ID, domain.StatusIndexing, domain.StatusReady, ""); err != nil {
		return fail(CodeIndexingFailed, domain.StatusIndexing, err)
	}
	em.Progress(string(domain.StatusReady), 95, "Document ready")
	a.enqueueEmbedding(ctx, doc.ID)
	return nil
}

// extractStored reads the file back through storage so the durable copy is what gets indexed.
func (a *App) extractStored(ctx context.Context, key string, format domain.Format, onProgress extract.ProgressFunc) (string, error) {
	rc, err := a.storage.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open stored file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}
	return a.extractor.Extract(ctx, data, format, onProgress)
}

// enqueueEmbedding is best effort: a document without embeddings is still
// served through fallback retrieval and can be retried from the indexer.
func (a *App) enqueueEmbedding(ctx context.Context, documentID string) {
	if a.jobs == nil {
		return
	}
	job, err := a.jobs.Enqueue(ctx, documentID, queue.SourceIngest)
	if err != nil {
		a.logger.Warn("enqueue embedding job", "document_id", documentID, "err", err)
		return
	}
	a.logger.Debug("embedding job enqueued", "document_id", documentID, "job_id", job.ID)
}
