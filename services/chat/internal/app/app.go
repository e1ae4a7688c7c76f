package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/reasoning"
	"docchat/pkg/retrieval"
	"docchat/pkg/store"
)

const (
	defaultConversationTitle = "New Chat"
	defaultHistoryLimit      = 10
)

// Retriever selects context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, candidateIDs []string, topK, minChunks int) ([]retrieval.Match, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store     store.Store
	Generator ai.StreamGenerator
	// Retriever may be nil, in which case every turn is ungrounded.
	Retriever    Retriever
	TopK         int
	MinChunks    int
	HistoryLimit int
	SplitterOpts []reasoning.Option
	Logger       *slog.Logger
}

// App runs chat turns against the conversation's documents.
type App struct {
	store        store.Store
	generator    ai.StreamGenerator
	retriever    Retriever
	topK         int
	minChunks    int
	historyLimit int
	splitterOpts []reasoning.Option
	turns        *turnRegistry
	logger       *slog.Logger
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	minChunks := cfg.MinChunks
	if minChunks <= 0 {
		minChunks = retrieval.DefaultMinChunks
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:        cfg.Store,
		generator:    cfg.Generator,
		retriever:    cfg.Retriever,
		topK:         topK,
		minChunks:    minChunks,
		historyLimit: historyLimit,
		splitterOpts: cfg.SplitterOpts,
		turns:        newTurnRegistry(),
		logger:       logger.With("component", "chat"),
	}, nil
}

// CreateConversation starts an empty conversation.
func (a *App) CreateConversation(ctx context.Context, title, description string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultConversationTitle
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:          util.NewID(),
		Title:       title,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation by ID.
func (a *App) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// ListMessages returns up to limit of the newest messages in chronological order.
func (a *App) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if _, err := a.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	msgs, err := a.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// StopTurn signals the active stream of a conversation to abort. It reports
// whether a stream was running.
func (a *App) StopTurn(conversationID string) bool {
	return a.turns.stop(strings.TrimSpace(conversationID))
}

// TurnRequest is one user message sent to a conversation.
type TurnRequest struct {
	ConversationID string
	Message        string
}

// TurnResult describes how a turn ended.
type TurnResult struct {
	Message domain.Message
	Aborted bool
}

// EmitFunc delivers one generation frame. A non-nil error means the client is gone.
type EmitFunc func(reasoning.Event) error

// StreamTurn answers one user message. Frames are relayed through emit as the
// model produces them; the turn stops at the next delta boundary when ctx is
// cancelled, emit fails, or StopTurn is called. The assistant message is
// persisted exactly once, after the stream ends or is aborted, and the
// terminal frame is emitted last.
func (a *App) StreamTurn(ctx context.Context, req TurnRequest, emit EmitFunc) (TurnResult, error) {
	convID := strings.TrimSpace(req.ConversationID)
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if _, err := a.GetConversation(ctx, convID); err != nil {
		return TurnResult{}, err
	}
	turn, err := a.turns.begin(convID)
	if err != nil {
		return TurnResult{}, err
	}
	defer a.turns.end(convID, turn)
	logger := a.logger.With("conversation_id", convID)

	if err := a.store.AppendMessage(ctx, domain.Message{
		ID:             util.NewID(),
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return TurnResult{}, fmt.Errorf("save user message: %w", err)
	}
	history, err := a.history(ctx, convID)
	if err != nil {
		return TurnResult{}, err
	}
	docContext, ragContext := a.groundingContext(ctx, convID, text, logger)

	// generation outlives the request context; the turn decides when to stop it
	genCtx, stopGeneration := context.WithCancel(context.WithoutCancel(ctx))
	defer stopGeneration()
	stream, err := a.generator.StreamChat(genCtx, history, docContext)
	if err != nil {
		return TurnResult{}, fmt.Errorf("start generation: %w", err)
	}
	defer stream.Close()

	splitter := reasoning.NewSplitter(a.splitterOpts...)
	aborted, streamErr := a.relay(ctx, turn, stream, splitter, emit)
	stopGeneration()
	if streamErr != nil {
		logger.Error("generation stream failed", "err", streamErr)
		aborted = true
	}

	// an aborted turn keeps exactly what the client already saw
	if !aborted {
		for _, ev := range splitter.Flush() {
			if err := emit(ev); err != nil {
				aborted = true
				break
			}
		}
	}

	msg := assistantMessage(convID, splitter, ragContext)
	if err := a.store.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		return TurnResult{}, fmt.Errorf("save assistant message: %w", err)
	}
	if aborted {
		logger.Info("chat turn aborted", "content_len", len(msg.Content))
	}
	_ = emit(reasoning.DoneEvent(aborted))
	return TurnResult{Message: msg, Aborted: aborted}, streamErr
}

type delta struct {
	text string
	err  error
}

// relay forwards deltas through the splitter until the stream ends or the
// turn is cancelled. Cancellation is checked before each delta is released.
func (a *App) relay(ctx context.Context, turn *activeTurn, stream ai.TextStream, splitter *reasoning.Splitter, emit EmitFunc) (aborted bool, err error) {
	deltas := make(chan delta)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			text, err := stream.Recv()
			select {
			case deltas <- delta{text: text, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-turn.stop:
			return true, nil
		case d := <-deltas:
			if cancelled(ctx, turn) {
				return true, nil
			}
			if d.err != nil {
				if errors.Is(d.err, io.EOF) {
					return false, nil
				}
				return false, d.err
			}
			for _, ev := range splitter.Feed(d.text) {
				if err := emit(ev); err != nil {
					return true, nil
				}
			}
		}
	}
}

func cancelled(ctx context.Context, turn *activeTurn) bool {
	select {
	case <-ctx.Done():
		return true
	case <-turn.stop:
		return true
	default:
		return false
	}
}

func (a *App) history(ctx context.Context, convID string) ([]ai.ChatMessage, error) {
	msgs, err := a.store.ListMessages(ctx, convID, a.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]ai.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// groundingContext retrieves over the conversation's ready documents. Any
// failure degrades the turn to an ungrounded answer.
func (a *App) groundingContext(ctx context.Context, convID, query string, logger *slog.Logger) (string, *domain.RAGContext) {
	if a.retriever == nil {
		return "", nil
	}
	docs, err := a.store.ListDocumentsByConversation(ctx, convID)
	if err != nil {
		logger.Warn("list documents for retrieval", "err", err)
		return "", nil
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ProcessingStatus == domain.StatusReady {
			ids = append(ids, doc.ID)
		}
	}
	matches, err := a.retriever.Retrieve(ctx, query, ids, a.topK, a.minChunks)
	if err != nil {
		logger.Warn("retrieval failed, answering without documents", "err", err)
		return "", nil
	}
	return retrieval.BuildContext(matches)
}

func assistantMessage(convID string, splitter *reasoning.Splitter, ragContext *domain.RAGContext) domain.Message {
	content := splitter.Content()
	thoughts := splitter.Reasoning()
	if content == "" && thoughts == "" {
		content = splitter.Raw()
	}
	meta := &domain.MessageMetadata{Reasoning: thoughts, RAGContext: ragContext}
	if meta.IsEmpty() {
		meta = nil
	}
	return domain.Message{
		ID:             util.NewID(),
		ConversationID: convID,
		Role:           domain.RoleAssistant,
		Content:        content,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
}
