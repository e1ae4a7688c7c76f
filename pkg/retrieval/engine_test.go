package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/pkg/domain"
	"docchat/pkg/store"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) EmbedText(context.Context, string, string) ([]float32, error) {
	f.calls.Add(1)
	return f.vec, f.err
}

func addDocument(t *testing.T, st *store.MemoryStore, id string, emb domain.EmbeddingStatus, chunks int, vec func(i int) []float32) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.CreateDocument(ctx, domain.Document{
		ID:               id,
		ConversationID:   "conv",
		Name:             id + ".md",
		ProcessingStatus: domain.StatusReady,
		EmbeddingStatus:  emb,
		UploadedAt:       now,
		UpdatedAt:        now,
	}))
	list := make([]domain.Chunk, chunks)
	for i := range list {
		list[i] = domain.Chunk{ID: fmt.Sprintf("%s-%d", id, i), ChunkIndex: i, Content: fmt.Sprintf("%s chunk %d", id, i)}
	}
	require.NoError(t, st.SaveDocumentContent(ctx, id, "text", list))
	if vec == nil {
		return
	}
	for i := range list {
		require.NoError(t, st.SetChunkEmbedding(ctx, list[i].ID, vec(i), "test"))
	}
}

func TestRetrieveEmptyCandidatesSkipsBackend(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	e := NewEngine(store.NewMemoryStore(), emb)
	got, err := e.Retrieve(context.Background(), "q", nil, 5, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieveFallbackOutranksVectorResults(t *testing.T) {
	st := store.NewMemoryStore()
	// A: embedded, no chunk matches the query exactly.
	addDocument(t, st, "A", domain.EmbeddingCompleted, 4, func(i int) []float32 {
		return []float32{1, float32(i+1) * 0.5}
	})
	// B: not embedded, served by ordinal fallback.
	addDocument(t, st, "B", domain.EmbeddingNotStarted, 10, nil)

	emb := &fakeEmbedder{vec: []float32{1, 0}}
	got, err := NewEngine(st, emb).Retrieve(context.Background(), "q", []string{"A", "B"}, 5, 3)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, "B", m.DocumentID)
		assert.Equal(t, i, m.ChunkIndex)
		assert.Equal(t, 1.0, m.RelevanceScore)
		assert.Equal(t, "B.md", m.DocumentName)
	}
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestRetrieveVectorOnlyRanksByCosine(t *testing.T) {
	st := store.NewMemoryStore()
	addDocument(t, st, "A", domain.EmbeddingCompleted, 6, func(i int) []float32 {
		return []float32{1, float32(5-i) * 0.3}
	})
	got, err := NewEngine(st, &fakeEmbedder{vec: []float32{1, 0}}).Retrieve(context.Background(), "q", []string{"A"}, 2, 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].ChunkIndex)
	assert.InDelta(t, 1.0, got[0].RelevanceScore, 1e-6)
	assert.Equal(t, 4, got[1].ChunkIndex)
	assert.Greater(t, got[0].RelevanceScore, got[1].RelevanceScore)
}

func TestRetrieveFailedEmbeddingUsesFallback(t *testing.T) {
	st := store.NewMemoryStore()
	// partially embedded but marked failed: must not be vector searched
	addDocument(t, st, "P", domain.EmbeddingFailed, 3, func(i int) []float32 { return []float32{1, 0} })
	emb := &fakeEmbedder{vec: []float32{1, 0}}
	got, err := NewEngine(st, emb, WithFallbackScore(0.5)).Retrieve(context.Background(), "q", []string{"P"}, 5, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.5, got[0].RelevanceScore)
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieveSkipsDocumentsNotReady(t *testing.T) {
	st := store.NewMemoryStore()
	addDocument(t, st, "R", domain.EmbeddingNotStarted, 2, nil)
	now := time.Now().UTC()
	require.NoError(t, st.CreateDocument(context.Background(), domain.Document{
		ID: "U", Name: "u", ProcessingStatus: domain.StatusIndexing, UploadedAt: now, UpdatedAt: now,
	}))
	got, err := NewEngine(st, &fakeEmbedder{}).Retrieve(context.Background(), "q", []string{"R", "U", "missing"}, 5, 3)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrievePropagatesEmbedderError(t *testing.T) {
	st := store.NewMemoryStore()
	addDocument(t, st, "A", domain.EmbeddingCompleted, 1, func(int) []float32 { return []float32{1, 0} })
	boom := errors.New("backend down")
	_, err := NewEngine(st, &fakeEmbedder{err: boom}).Retrieve(context.Background(), "q", []string{"A"}, 5, 3)
	assert.ErrorIs(t, err, boom)
}

func TestBuildContext(t *testing.T) {
	text, rag := BuildContext(nil)
	assert.Empty(t, text)
	assert.Nil(t, rag)

	text, rag = BuildContext([]Match{
		{DocumentID: "a", DocumentName: "a.md", ChunkIndex: 2, Content: "two", RelevanceScore: 0.9},
		{DocumentID: "b", DocumentName: "b.md", ChunkIndex: 0, Content: "zero", RelevanceScore: 0.8},
		{DocumentID: "a", DocumentName: "a.md", ChunkIndex: 0, Content: "first", RelevanceScore: 0.7},
	})
	assert.Equal(t, "# a.md (chunk 2)\n\ntwo\n\n---\n\n# b.md (chunk 0)\n\nzero\n\n---\n\n# a.md (chunk 0)\n\nfirst", text)
	require.NotNil(t, rag)
	assert.Equal(t, 3, rag.TotalChunks)
	assert.Equal(t, len([]rune(text)), rag.ContextLength)
	require.Len(t, rag.DocumentsUsed, 2)
	assert.Equal(t, []int{2, 0}, rag.DocumentsUsed[0].ChunksUsed)
	assert.Equal(t, 0.9, rag.DocumentsUsed[0].RelevanceScore)
}
