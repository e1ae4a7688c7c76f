package ai

import (
	"context"
	"strings"
)

// DocumentSystemPrompt prefixes the retrieved context in the system message.
const DocumentSystemPrompt = "You are a helpful assistant in an application called 'Doc Chat' that allows the user " +
	"to upload documents and ask questions about them, you should use the following document context to answer questions:\n\n"

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string
	Content string
}

// TextStream yields raw text deltas. Recv returns io.EOF after the last delta.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

// StreamGenerator produces a streamed completion for a conversation.
// All LLM providers (Ollama, OpenAI-compatible, Gemini) implement this interface.
type StreamGenerator interface {
	StreamChat(ctx context.Context, messages []ChatMessage, documentContext string) (TextStream, error)
}

// BuildMessages prepends the document system prompt when there is any context.
func BuildMessages(history []ChatMessage, documentContext string) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	if strings.TrimSpace(documentContext) != "" {
		out = append(out, ChatMessage{Role: "system", Content: DocumentSystemPrompt + documentContext})
	}
	return append(out, history...)
}
