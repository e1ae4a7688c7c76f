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

// GeminiGenerator wraps GeminiClient with a fixed model for streamed generation.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based StreamGenerator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// StreamChat implements StreamGenerator using streamGenerateContent.
// Gemini has no system role in contents, so the system message becomes systemInstruction.
func (g *GeminiGenerator) StreamChat(ctx context.Context, messages []ChatMessage, documentContext string) (TextStream, error) {
	var req generateRequest
	for _, m := range BuildMessages(messages, documentContext) {
		switch m.Role {
		case "system":
			req.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
		case "assistant":
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("gemini generate: no messages")
	}
	body, err := g.client.streamGenerate(ctx, g.model, req)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &geminiStream{body: body, scanner: scanner}, nil
}

type geminiStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *geminiStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var resp generateResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &resp); err != nil {
			slog.Debug("skip malformed gemini delta", "err", err)
			continue
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		var sb strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}

var _ StreamGenerator = (*GeminiGenerator)(nil)
