package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"docchat/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and single-node runs without Postgres.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	docs          map[string]domain.Document
	docOrder      []string
	chunks        map[string][]domain.Chunk // document ID -> chunks by index
	messages      map[string][]domain.Message
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]domain.Conversation),
		docs:          make(map[string]domain.Document),
		chunks:        make(map[string][]domain.Chunk),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[c.ID]; exists {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; exists {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if doc.EmbeddingStatus == "" {
		doc.EmbeddingStatus = domain.EmbeddingNotStarted
	}
	m.docs[doc.ID] = doc
	m.docOrder = append(m.docOrder, doc.ID)
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok, nil
}

func (m *MemoryStore) GetDocuments(_ context.Context, ids []string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok && !seen[id] {
			seen[id] = true
			res = append(res, doc)
		}
	}
	return res, nil
}

// ListDocumentsByConversation returns newest uploads first.
func (m *MemoryStore) ListDocumentsByConversation(_ context.Context, conversationID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for i := len(m.docOrder) - 1; i >= 0; i-- {
		if doc, ok := m.docs[m.docOrder[i]]; ok && doc.ConversationID == conversationID {
			res = append(res, doc)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListDocumentsPendingEmbedding(_ context.Context, staleBefore time.Time) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, id := range m.docOrder {
		doc, ok := m.docs[id]
		if !ok || doc.ProcessingStatus != domain.StatusReady {
			continue
		}
		switch doc.EmbeddingStatus {
		case domain.EmbeddingNotStarted, domain.EmbeddingFailed:
			res = append(res, doc)
		case domain.EmbeddingGenerating:
			if doc.UpdatedAt.Before(staleBefore) {
				res = append(res, doc)
			}
		}
	}
	return res, nil
}

func (m *MemoryStore) TransitionDocument(_ context.Context, id string, from, to domain.ProcessingStatus, errMsg string) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.ProcessingStatus != from {
		return fmt.Errorf("%w: document %s is %s, not %s (target %s)", domain.ErrInvalidTransition, id, doc.ProcessingStatus, from, to)
	}
	doc.ProcessingStatus = to
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) SetStoragePath(_ context.Context, id, path string) error {
	return m.updateDocument(id, func(doc *domain.Document) {
		doc.StoragePath = path
	})
}

func (m *MemoryStore) SetEmbeddingStatus(_ context.Context, id string, status domain.EmbeddingStatus, errMsg string) error {
	return m.updateDocument(id, func(doc *domain.Document) {
		doc.EmbeddingStatus = status
		doc.EmbeddingError = errMsg
		if status == domain.EmbeddingCompleted {
			now := time.Now().UTC()
			doc.EmbeddedAt = &now
		}
	})
}

func (m *MemoryStore) updateDocument(id string, fn func(*domain.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&doc)
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.chunks, id)
	for i, existing := range m.docOrder {
		if existing == id {
			m.docOrder = append(m.docOrder[:i], m.docOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) SaveDocumentContent(_ context.Context, documentID, text string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return ErrNotFound
	}
	content := text
	doc.ContentText = &content
	doc.UpdatedAt = time.Now().UTC()
	m.docs[documentID] = doc

	stored := make([]domain.Chunk, len(chunks))
	for i, chunk := range chunks {
		chunk.DocumentID = documentID
		chunk.Embedding = append([]float32(nil), chunk.Embedding...)
		stored[i] = chunk
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].ChunkIndex < stored[j].ChunkIndex })
	m.chunks[documentID] = stored
	return nil
}

func (m *MemoryStore) ListChunksByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.chunks[documentID]
	res := make([]domain.Chunk, len(src))
	copy(res, src)
	return res, nil
}

func (m *MemoryStore) SetChunkEmbedding(_ context.Context, chunkID string, embedding []float32, model string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, chunks := range m.chunks {
		for i := range chunks {
			if chunks[i].ID != chunkID {
				continue
			}
			chunks[i].Embedding = append([]float32(nil), embedding...)
			chunks[i].EmbeddingModel = model
			chunks[i].Dimension = len(embedding)
			chunks[i].HasEmbedding = true
			m.chunks[docID] = chunks
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) SearchChunks(_ context.Context, documentIDs []string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(documentIDs) == 0 {
		return []ScoredChunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []ScoredChunk
	for _, id := range uniqueIDs(documentIDs) {
		for _, chunk := range m.chunks[id] {
			if !chunk.HasEmbedding || len(chunk.Embedding) != len(embedding) {
				continue
			}
			hits = append(hits, ScoredChunk{Chunk: chunk, Distance: cosineDistance(embedding, chunk.Embedding)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []ScoredChunk{}
	}
	return hits, nil
}

func (m *MemoryStore) LeadingChunks(_ context.Context, documentIDs []string, perDocument int) ([]domain.Chunk, error) {
	res := make([]domain.Chunk, 0)
	if perDocument <= 0 {
		return res, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range uniqueIDs(documentIDs) {
		chunks := m.chunks[id]
		if len(chunks) > perDocument {
			chunks = chunks[:perDocument]
		}
		res = append(res, chunks...)
	}
	return res, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	if c, ok := m.conversations[msg.ConversationID]; ok {
		c.UpdatedAt = msg.CreatedAt
		m.conversations[msg.ConversationID] = c
	}
	return nil
}

// ListMessages returns the newest limit messages in chronological order.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// cosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*GormStore)(nil)
