package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// OllamaGenerator streams completions from the Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client    *OllamaClient
	model     string
	keepAlive string
}

// NewOllamaGenerator builds an Ollama-based StreamGenerator. keepAlive is passed
// through so the model stays loaded between turns (e.g. "30m").
func NewOllamaGenerator(client *OllamaClient, model, keepAlive string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model, keepAlive: keepAlive}
}

// StreamChat implements StreamGenerator.
func (g *OllamaGenerator) StreamChat(ctx context.Context, messages []ChatMessage, documentContext string) (TextStream, error) {
	model := strings.TrimSpace(g.model)
	if model == "" {
		return nil, fmt.Errorf("ollama generation model required")
	}
	all := BuildMessages(messages, documentContext)
	reqBody := ollamaChatRequest{
		Model:     model,
		Messages:  make([]ollamaChatMessage, 0, len(all)),
		Stream:    true,
		KeepAlive: g.keepAlive,
	}
	for _, m := range all {
		reqBody.Messages = append(reqBody.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := g.client.post(ctx, g.client.streamClient, "/api/chat", reqBody)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("ollama chat: %w", decodeOllamaError(resp))
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ollamaStream{body: resp.Body, scanner: scanner}, nil
}

// ollamaStream reads newline-delimited JSON objects.
type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var part ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &part); err != nil {
			slog.Debug("skip malformed ollama delta", "err", err)
			continue
		}
		if part.Error != "" {
			return "", fmt.Errorf("ollama api error: %s", part.Error)
		}
		if part.Done {
			s.done = true
		}
		if part.Message.Content != "" {
			return part.Message.Content, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	KeepAlive string              `json:"keep_alive,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

var _ StreamGenerator = (*OllamaGenerator)(nil)
