package store

import (
	"context"
	"errors"
	"time"

	"docchat/pkg/domain"
)

// ErrNotFound is returned by updates that target a missing row.
var ErrNotFound = errors.New("record not found")

// ScoredChunk is a nearest-neighbour hit with its cosine distance to the query.
type ScoredChunk struct {
	domain.Chunk
	Distance float64
}

// Store defines persistence operations for conversations, documents, chunks and messages.
type Store interface {
	// conversations
	CreateConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)

	// documents
	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error)
	ListDocumentsByConversation(ctx context.Context, conversationID string) ([]domain.Document, error)
	// ListDocumentsPendingEmbedding returns ready documents whose embeddings are
	// not_started or failed, plus those left in generating since before staleBefore.
	ListDocumentsPendingEmbedding(ctx context.Context, staleBefore time.Time) ([]domain.Document, error)
	// TransitionDocument moves processingStatus from -> to only if the row is
	// still in from; otherwise it returns domain.ErrInvalidTransition.
	TransitionDocument(ctx context.Context, id string, from, to domain.ProcessingStatus, errMsg string) error
	SetStoragePath(ctx context.Context, id, path string) error
	SetEmbeddingStatus(ctx context.Context, id string, status domain.EmbeddingStatus, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error

	// chunks
	// SaveDocumentContent stores the cleaned text and replaces the chunk set in one transaction.
	SaveDocumentContent(ctx context.Context, documentID, text string, chunks []domain.Chunk) error
	ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error
	SearchChunks(ctx context.Context, documentIDs []string, embedding []float32, limit int) ([]ScoredChunk, error)
	// LeadingChunks returns the first perDocument chunks of each document by chunkIndex.
	LeadingChunks(ctx context.Context, documentIDs []string, perDocument int) ([]domain.Chunk, error)

	// messages
	AppendMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}
