package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docchat/pkg/domain"
)

const migrateLockID int64 = 51270309

const (
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "DOCCHAT_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres + pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return migrate(tx, embeddingDim)
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func migrate(tx *gorm.DB, embeddingDim int) error {
	if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := tx.AutoMigrate(&ConversationModel{}, &DocumentModel{}, &ChunkModel{}, &MessageModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(fmt.Sprintf(`
		DO $$
		BEGIN
		IF EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'chunk_models' AND column_name = 'embedding'
		) THEN
			ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
		END IF;
		END $$;
	`, embeddingDim)).Error; err != nil {
		return fmt.Errorf("alter chunk embedding type: %w", err)
	}
	if err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS chunk_models_embedding_hnsw
		ON chunk_models USING hnsw (embedding vector_cosine_ops)
	`).Error; err != nil {
		return fmt.Errorf("create embedding index: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			DELETE FROM chunk_models c
			WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = c.document_id);
			DELETE FROM document_models d
			WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = d.conversation_id);
			DELETE FROM message_models m
			WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'chunk_models'
				AND constraint_name = 'chunk_models_document_id_fkey'
			) THEN
				ALTER TABLE chunk_models
				ADD CONSTRAINT chunk_models_document_id_fkey
				FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'document_models'
				AND constraint_name = 'document_models_conversation_id_fkey'
			) THEN
				ALTER TABLE document_models
				ADD CONSTRAINT document_models_conversation_id_fkey
				FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'message_models'
				AND constraint_name = 'message_models_conversation_id_fkey'
			) THEN
				ALTER TABLE message_models
				ADD CONSTRAINT message_models_conversation_id_fkey
				FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateConversation inserts a conversation.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// CreateDocument inserts a document row.
func (s *GormStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// GetDocuments returns the documents that exist among ids, in the order of ids.
func (s *GormStore) GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return []domain.Document{}, nil
	}
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Omit("content_text").Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Document, len(models))
	for _, m := range models {
		byID[m.ID] = documentFromModel(m)
	}
	docs := make([]domain.Document, 0, len(models))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
			delete(byID, id)
		}
	}
	return docs, nil
}

// ListDocumentsByConversation returns a conversation's documents, newest first.
func (s *GormStore) ListDocumentsByConversation(ctx context.Context, conversationID string) ([]domain.Document, error) {
	return s.listDocuments(ctx, "uploaded_at DESC", "conversation_id = ?", conversationID)
}

// ListDocumentsPendingEmbedding returns ready documents whose vectors are missing
// or failed, and those whose generating run stopped updating before staleBefore.
func (s *GormStore) ListDocumentsPendingEmbedding(ctx context.Context, staleBefore time.Time) ([]domain.Document, error) {
	return s.listDocuments(ctx, "uploaded_at ASC",
		"processing_status = ? AND (embedding_status IN ? OR (embedding_status = ? AND updated_at < ?))",
		string(domain.StatusReady),
		[]string{string(domain.EmbeddingNotStarted), string(domain.EmbeddingFailed)},
		string(domain.EmbeddingGenerating),
		staleBefore.UTC(),
	)
}

func (s *GormStore) listDocuments(ctx context.Context, order string, conds ...any) ([]domain.Document, error) {
	var models []DocumentModel
	tx := s.db.WithContext(ctx).Omit("content_text").Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// TransitionDocument applies a forward-only processing status change.
func (s *GormStore) TransitionDocument(ctx context.Context, id string, from, to domain.ProcessingStatus, errMsg string) error {
	if err := domain.ValidateTransition(from, to); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND processing_status = ?", id, string(from)).
		Updates(map[string]any{
			"processing_status": string(to),
			"error_message":     errMsg,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrConflict(ctx, id, from, to)
	}
	return nil
}

func (s *GormStore) missingOrConflict(ctx context.Context, id string, from, to domain.ProcessingStatus) error {
	doc, ok, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return fmt.Errorf("%w: document %s is %s, not %s (target %s)", domain.ErrInvalidTransition, id, doc.ProcessingStatus, from, to)
}

// SetStoragePath records where the original bytes were saved.
func (s *GormStore) SetStoragePath(ctx context.Context, id, path string) error {
	return s.updateDocument(ctx, id, map[string]any{
		"storage_path": path,
		"updated_at":   time.Now().UTC(),
	})
}

// SetEmbeddingStatus updates the embedding axis. Completion also stamps embedded_at.
func (s *GormStore) SetEmbeddingStatus(ctx context.Context, id string, status domain.EmbeddingStatus, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"embedding_status": string(status),
		"embedding_error":  errMsg,
		"updated_at":       now,
	}
	if status == domain.EmbeddingCompleted {
		updates["embedded_at"] = now
	}
	return s.updateDocument(ctx, id, updates)
}

func (s *GormStore) updateDocument(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document and its chunks.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// SaveDocumentContent replaces all chunks for a document and stores its cleaned text.
func (s *GormStore) SaveDocumentContent(ctx context.Context, documentID, text string, chunks []domain.Chunk) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DocumentModel{}).Where("id = ?", documentID).Updates(map[string]any{
			"content_text": text,
			"updated_at":   time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListChunksByDocument returns chunks ordered by chunk index.
func (s *GormStore) ListChunksByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.WithContext(ctx).Omit("embedding").
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// SetChunkEmbedding overwrites the embedding vector for a chunk.
func (s *GormStore) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error {
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&ChunkModel{}).Where("id = ?", chunkID).
		Updates(map[string]any{
			"embedding":       pgvector.NewVector(embedding),
			"embedding_model": model,
			"dimension":       len(embedding),
			"has_embedding":   true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type scoredChunkRow struct {
	ChunkModel `gorm:"embedded"`
	Distance   float64
}

// SearchChunks finds the nearest embedded chunks of the given documents by cosine distance.
func (s *GormStore) SearchChunks(ctx context.Context, documentIDs []string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 || len(documentIDs) == 0 {
		return []ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredChunkRow
	if err := s.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("chunk_models.*, embedding <=> ? AS distance", vec).
		Where("document_id IN ? AND has_embedding = ?", documentIDs, true).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]ScoredChunk, 0, len(rows))
	for _, row := range rows {
		res = append(res, ScoredChunk{Chunk: chunkFromModel(row.ChunkModel), Distance: row.Distance})
	}
	return res, nil
}

// LeadingChunks relies on chunk indexes being gapless from 0.
func (s *GormStore) LeadingChunks(ctx context.Context, documentIDs []string, perDocument int) ([]domain.Chunk, error) {
	if perDocument <= 0 || len(documentIDs) == 0 {
		return []domain.Chunk{}, nil
	}
	var models []ChunkModel
	if err := s.db.WithContext(ctx).Omit("embedding").
		Where("document_id IN ? AND chunk_index < ?", documentIDs, perDocument).
		Order("chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	sortByDocumentOrder(chunks, documentIDs)
	return chunks, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt.UTC()).Error
	})
}

// ListMessages returns recent messages for a conversation (newest first, then reversed to chronological).
func (s *GormStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func sortByDocumentOrder(chunks []domain.Chunk, documentIDs []string) {
	pos := make(map[string]int, len(documentIDs))
	for i, id := range documentIDs {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if pi, pj := pos[chunks[i].DocumentID], pos[chunks[j].DocumentID]; pi != pj {
			return pi < pj
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		ConversationID:   d.ConversationID,
		Name:             d.Name,
		Format:           string(d.Format),
		MediaType:        d.MediaType,
		FileSize:         d.FileSize,
		StoragePath:      d.StoragePath,
		ProcessingStatus: string(d.ProcessingStatus),
		ErrorMessage:     d.ErrorMessage,
		EmbeddingStatus:  string(d.EmbeddingStatus),
		EmbeddingError:   d.EmbeddingError,
		EmbeddedAt:       d.EmbeddedAt,
		ContentText:      d.ContentText,
		UploadedAt:       d.UploadedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	embeddingStatus := domain.EmbeddingStatus(m.EmbeddingStatus)
	if embeddingStatus == "" {
		embeddingStatus = domain.EmbeddingNotStarted
	}
	return domain.Document{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Name:             m.Name,
		Format:           domain.Format(m.Format),
		MediaType:        m.MediaType,
		FileSize:         m.FileSize,
		StoragePath:      m.StoragePath,
		ProcessingStatus: domain.ProcessingStatus(m.ProcessingStatus),
		ErrorMessage:     m.ErrorMessage,
		EmbeddingStatus:  embeddingStatus,
		EmbeddingError:   m.EmbeddingError,
		EmbeddedAt:       m.EmbeddedAt,
		ContentText:      m.ContentText,
		UploadedAt:       m.UploadedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var meta []byte
	if !msg.Metadata.IsEmpty() {
		meta, _ = json.Marshal(msg.Metadata)
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Metadata:       meta,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var meta *domain.MessageMetadata
	if len(m.Metadata) > 0 {
		var decoded domain.MessageMetadata
		if err := json.Unmarshal(m.Metadata, &decoded); err == nil && !decoded.IsEmpty() {
			meta = &decoded
		}
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Metadata:       meta,
		CreatedAt:      m.CreatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	model := ChunkModel{
		ID:             chunk.ID,
		DocumentID:     chunk.DocumentID,
		ChunkIndex:     chunk.ChunkIndex,
		Content:        chunk.Content,
		EmbeddingModel: chunk.EmbeddingModel,
		Dimension:      chunk.Dimension,
		HasEmbedding:   chunk.HasEmbedding,
		CreatedAt:      chunk.CreatedAt,
	}
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		model.Embedding = &vec
	}
	return model
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	chunk := domain.Chunk{
		ID:             model.ID,
		DocumentID:     model.DocumentID,
		ChunkIndex:     model.ChunkIndex,
		Content:        model.Content,
		EmbeddingModel: model.EmbeddingModel,
		Dimension:      model.Dimension,
		HasEmbedding:   model.HasEmbedding,
		CreatedAt:      model.CreatedAt,
	}
	if model.Embedding != nil {
		chunk.Embedding = model.Embedding.Slice()
	}
	return chunk
}
