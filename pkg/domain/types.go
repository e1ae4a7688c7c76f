package domain

import "time"

// ProcessingStatus is the ingestion lifecycle of a document.
type ProcessingStatus string

const (
	StatusUploading  ProcessingStatus = "uploading"
	StatusExtracting ProcessingStatus = "extracting"
	StatusIndexing   ProcessingStatus = "indexing"
	StatusReady      ProcessingStatus = "ready"
	StatusError      ProcessingStatus = "error"
)

// EmbeddingStatus is the vector-generation lifecycle of a document. It only
// moves away from not_started once the document is ready.
type EmbeddingStatus string

const (
	EmbeddingNotStarted EmbeddingStatus = "not_started"
	EmbeddingGenerating EmbeddingStatus = "generating"
	EmbeddingCompleted  EmbeddingStatus = "completed"
	EmbeddingFailed     EmbeddingStatus = "failed"
)

// Format identifies how a stored file is turned into text.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatHTML     Format = "html"
	FormatEPUB     Format = "epub"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Document struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	Name             string           `json:"name"`
	Format           Format           `json:"type"`
	MediaType        string           `json:"mediaType"`
	FileSize         int64            `json:"fileSize"`
	StoragePath      string           `json:"-"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	EmbeddingStatus  EmbeddingStatus  `json:"embeddingStatus"`
	EmbeddingError   string           `json:"embeddingError,omitempty"`
	EmbeddedAt       *time.Time       `json:"embeddedAt,omitempty"`
	ContentText      *string          `json:"-"`
	UploadedAt       time.Time        `json:"uploadedAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type Chunk struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	ChunkIndex     int       `json:"chunkIndex"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embeddingModel,omitempty"`
	Dimension      int       `json:"dimension,omitempty"`
	HasEmbedding   bool      `json:"hasEmbedding"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// MessageMetadata is attached to assistant messages. Both fields are omitted
// when empty so a message without reasoning or retrieval carries no metadata.
type MessageMetadata struct {
	Reasoning  string      `json:"reasoning,omitempty"`
	RAGContext *RAGContext `json:"ragContext,omitempty"`
}

// IsEmpty reports whether the metadata carries nothing worth persisting.
func (m *MessageMetadata) IsEmpty() bool {
	return m == nil || (m.Reasoning == "" && m.RAGContext == nil)
}

// RAGContext records which documents and chunks were given to the model.
type RAGContext struct {
	DocumentsUsed []DocumentUsage `json:"documentsUsed"`
	TotalChunks   int             `json:"totalChunks"`
	ContextLength int             `json:"contextLength"`
}

type DocumentUsage struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	ChunksUsed     []int   `json:"chunksUsed"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
}
