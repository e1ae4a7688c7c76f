// Package retrieval ranks document chunks for a chat turn. Documents with completed
// embeddings are searched by cosine distance; the rest fall back to their leading chunks.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/store"
)

const (
	DefaultTopK          = 5
	DefaultMinChunks     = 3
	DefaultFallbackScore = 1.0
)

// Match is one retrieved chunk.
type Match struct {
	DocumentID     string  `json:"documentId"`
	DocumentName   string  `json:"documentName"`
	ChunkIndex     int     `json:"chunkIndex"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Engine runs hybrid retrieval over a Store. It holds no per-call state.
type Engine struct {
	store         store.Store
	embedder      ai.Embedder
	fallbackScore float64
	logger        *slog.Logger
}

type Option func(*Engine)

// WithFallbackScore overrides the score given to ordinal fallback chunks.
func WithFallbackScore(score float64) Option {
	return func(e *Engine) { e.fallbackScore = score }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(st store.Store, embedder ai.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		embedder:      embedder,
		fallbackScore: DefaultFallbackScore,
		logger:        slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most topK matches across candidateIDs, highest score first.
func (e *Engine) Retrieve(ctx context.Context, query string, candidateIDs []string, topK, minChunks int) ([]Match, error) {
	if len(candidateIDs) == 0 || topK <= 0 {
		return []Match{}, nil
	}
	docs, err := e.store.GetDocuments(ctx, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("load candidate documents: %w", err)
	}

	names := make(map[string]string, len(docs))
	var withEmbeddings, withoutEmbeddings []string
	for _, doc := range docs {
		if doc.ProcessingStatus != domain.StatusReady {
			continue
		}
		names[doc.ID] = doc.Name
		if doc.EmbeddingStatus == domain.EmbeddingCompleted {
			withEmbeddings = append(withEmbeddings, doc.ID)
		} else {
			withoutEmbeddings = append(withoutEmbeddings, doc.ID)
		}
	}
	e.logger.Debug("retrieve", "candidates", len(candidateIDs), "with_embeddings", len(withEmbeddings), "without_embeddings", len(withoutEmbeddings))

	var matches []Match
	if len(withEmbeddings) > 0 {
		vector, err := e.vectorMatches(ctx, query, withEmbeddings, max(topK, minChunks), names)
		if err != nil {
			return nil, err
		}
		matches = append(matches, vector...)
	}
	if len(withoutEmbeddings) > 0 {
		chunks, err := e.store.LeadingChunks(ctx, withoutEmbeddings, topK)
		if err != nil {
			return nil, fmt.Errorf("fallback chunks: %w", err)
		}
		for _, c := range chunks {
			matches = append(matches, Match{
				DocumentID:     c.DocumentID,
				DocumentName:   names[c.DocumentID],
				ChunkIndex:     c.ChunkIndex,
				Content:        c.Content,
				RelevanceScore: e.fallbackScore,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].RelevanceScore > matches[j].RelevanceScore
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

func (e *Engine) vectorMatches(ctx context.Context, query string, ids []string, limit int, names map[string]string) ([]Match, error) {
	embedding, err := e.embedder.EmbedText(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.SearchChunks(ctx, ids, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{
			DocumentID:     h.DocumentID,
			DocumentName:   names[h.DocumentID],
			ChunkIndex:     h.ChunkIndex,
			Content:        h.Content,
			RelevanceScore: 1 - h.Distance,
		})
	}
	return out, nil
}
