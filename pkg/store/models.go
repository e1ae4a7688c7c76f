package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID          string    `gorm:"primaryKey"`
	Title       string    `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;index"`
}

type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	ConversationID   string `gorm:"not null;index"`
	Name             string `gorm:"not null"`
	Format           string `gorm:"not null"`
	MediaType        string
	FileSize         int64 `gorm:"not null"`
	StoragePath      string
	ProcessingStatus string `gorm:"not null;index"`
	ErrorMessage     string
	EmbeddingStatus  string `gorm:"not null;index"`
	EmbeddingError   string
	EmbeddedAt       *time.Time
	ContentText      *string   `gorm:"type:text"`
	UploadedAt       time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID             string           `gorm:"primaryKey"`
	DocumentID     string           `gorm:"not null;uniqueIndex:idx_chunk_document_ordinal"`
	ChunkIndex     int              `gorm:"not null;uniqueIndex:idx_chunk_document_ordinal"`
	Content        string           `gorm:"type:text;not null"`
	Embedding      *pgvector.Vector `gorm:"type:vector(768)"`
	EmbeddingModel string
	Dimension      int
	HasEmbedding   bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}
