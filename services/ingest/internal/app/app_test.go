package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/pkg/domain"
	"docchat/pkg/progress"
	"docchat/pkg/queue"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

type recordingJobs struct {
	mu   sync.Mutex
	docs []string
	err  error
}

func (r *recordingJobs) Enqueue(_ context.Context, documentID, source string) (queue.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return queue.JobStatus{}, r.err
	}
	r.docs = append(r.docs, documentID)
	return queue.JobStatus{ID: "job-" + documentID, DocumentID: documentID, Source: source, Status: queue.StatusQueued}, nil
}

func (r *recordingJobs) enqueued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.docs...)
}

type fixture struct {
	app   *App
	store *store.MemoryStore
	files *storage.FileStore
	jobs  *recordingJobs
}

func newFixture(t *testing.T, interval time.Duration) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	jobs := &recordingJobs{}
	a, err := New(Config{
		Store:             st,
		Storage:           files,
		Jobs:              jobs,
		ChunkSize:         40,
		ChunkOverlap:      10,
		ProgressInterval:  interval,
		MaxFileSize:       1 << 10,
		AllowedMediaTypes: []string{"application/pdf", "text/markdown", "text/x-markdown", "text/plain"},
		Concurrency:       2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(time.Second) })

	now := time.Now().UTC()
	require.NoError(t, st.CreateConversation(context.Background(), domain.Conversation{ID: "conv", Title: "t", CreatedAt: now, UpdatedAt: now}))
	return fixture{app: a, store: st, files: files, jobs: jobs}
}

func drain(run *Run) []progress.Event {
	var out []progress.Event
	for ev := range run.Events() {
		out = append(out, ev)
	}
	return out
}

func markdownUpload(body string) Upload {
	return Upload{ConversationID: "conv", Filename: "notes.md", MediaType: "text/markdown", Size: int64(len(body)), Data: []byte(body)}
}

func TestIngestMarkdownReachesReady(t *testing.T) {
	f := newFixture(t, 0)
	body := "# Title\n\n" + strings.Repeat("Retrieval augmented generation. ", 6)
	run, err := f.app.Ingest(context.Background(), markdownUpload(body))
	require.NoError(t, err)

	events := drain(run)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.TypeComplete, last.Type)
	assert.Equal(t, run.DocumentID, last.DocumentID)
	assert.Equal(t, "notes.md", last.Name)

	prev := 0
	var statuses []string
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, progress.TypeProgress, ev.Type)
		assert.GreaterOrEqual(t, ev.Progress, prev)
		prev = ev.Progress
		if len(statuses) == 0 || statuses[len(statuses)-1] != ev.Status {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []string{"uploading", "extracting", "indexing", "ready"}, statuses)

	ctx := context.Background()
	doc, ok, err := f.store.GetDocument(ctx, run.DocumentID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusReady, doc.ProcessingStatus)
	assert.Equal(t, domain.FormatMarkdown, doc.Format)
	require.NotNil(t, doc.ContentText)
	assert.True(t, strings.HasPrefix(*doc.ContentText, "# Title"))

	chunks, err := f.store.ListChunksByDocument(ctx, run.DocumentID)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
	assert.Equal(t, []string{run.DocumentID}, f.jobs.enqueued())

	rc, err := f.files.Open(ctx, doc.StoragePath)
	require.NoError(t, err)
	rc.Close()
}

func TestIngestValidationCreatesNothing(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	cases := []struct {
		name string
		up   Upload
		code string
	}{
		{"unknown conversation", Upload{ConversationID: "nope", Filename: "a.md", MediaType: "text/markdown", Data: []byte("x")}, CodeChatNotFound},
		{"no file", Upload{ConversationID: "conv"}, CodeNoFile},
		{"too large", Upload{ConversationID: "conv", Filename: "a.md", MediaType: "text/markdown", Size: 4 << 10, Data: []byte("x")}, CodeFileTooLarge},
		{"type not allowed", Upload{ConversationID: "conv", Filename: "a.html", MediaType: "text/html", Data: []byte("<p>x</p>")}, CodeInvalidFileType},
		{"unknown extension", Upload{ConversationID: "conv", Filename: "a.exe", MediaType: "application/octet-stream", Data: []byte("x")}, CodeInvalidFileType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.app.Ingest(ctx, tc.up)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.code, verr.Code)
		})
	}
	docs, err := f.store.ListDocumentsByConversation(ctx, "conv")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestResolvesGenericMediaTypeFromExtension(t *testing.T) {
	f := newFixture(t, 0)
	up := markdownUpload("hello world")
	up.MediaType = "application/octet-stream"
	run, err := f.app.Ingest(context.Background(), up)
	require.NoError(t, err)
	drain(run)

	doc, err := f.app.GetDocument(context.Background(), run.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", doc.MediaType)
}

func TestIngestEmptyTextFailsWithoutChunks(t *testing.T) {
	f := newFixture(t, 0)
	run, err := f.app.Ingest(context.Background(), Upload{
		ConversationID: "conv", Filename: "blank.txt", MediaType: "text/plain", Data: []byte(" \n\t\u200b "),
	})
	require.NoError(t, err)
	events := drain(run)
	last := events[len(events)-1]
	assert.Equal(t, progress.TypeError, last.Type)
	assert.Equal(t, CodeExtractionFailed, last.Error)

	doc, err := f.app.GetDocument(context.Background(), run.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, doc.ProcessingStatus)
	assert.NotEmpty(t, doc.ErrorMessage)
	assert.Nil(t, doc.ContentText)
	chunks, err := f.store.ListChunksByDocument(context.Background(), run.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, f.jobs.enqueued())
}

func TestIngestThrottlesButAlwaysSendsTerminal(t *testing.T) {
	f := newFixture(t, time.Hour)
	run, err := f.app.Ingest(context.Background(), markdownUpload("some text to index"))
	require.NoError(t, err)
	events := drain(run)
	require.Len(t, events, 2)
	assert.Equal(t, "uploading", events[0].Status)
	assert.Equal(t, progress.TypeComplete, events[1].Type)
}

func TestIngestKeepsRunningAfterDetach(t *testing.T) {
	f := newFixture(t, 0)
	run, err := f.app.Ingest(context.Background(), markdownUpload("detached upload body"))
	require.NoError(t, err)
	run.Detach()
	drain(run)

	doc, err := f.app.GetDocument(context.Background(), run.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, doc.ProcessingStatus)
}

func TestIngestSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.jobs.err = errors.New("redis down")
	run, err := f.app.Ingest(context.Background(), markdownUpload("still ready"))
	require.NoError(t, err)
	events := drain(run)
	assert.Equal(t, progress.TypeComplete, events[len(events)-1].Type)
}

func TestDeleteDocumentRemovesFileAndRow(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	run, err := f.app.Ingest(ctx, markdownUpload("delete me"))
	require.NoError(t, err)
	drain(run)
	doc, err := f.app.GetDocument(ctx, run.DocumentID)
	require.NoError(t, err)

	require.NoError(t, f.app.DeleteDocument(ctx, doc.ID))
	_, err = f.app.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = f.files.Open(ctx, doc.StoragePath)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, f.app.DeleteDocument(ctx, doc.ID), ErrDocumentNotFound)
}
