// Package client talks to the ingest, indexer and chat services, decoding their
// SSE progress and generation streams.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/packages/ssestream"

	"docchat/pkg/domain"
	"docchat/pkg/queue"
)

// Endpoints holds the base URL of each service.
type Endpoints struct {
	Chat    string
	Ingest  string
	Indexer string
}

// Client calls the docchat services over HTTP.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	// streamClient has no overall timeout; streams end when the server says so or ctx is cancelled.
	streamClient *http.Client
}

// APIError represents a JSON error response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Retryable reports whether a later attempt may succeed.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

func New(endpoints Endpoints) *Client {
	return &Client{
		endpoints: Endpoints{
			Chat:    strings.TrimRight(endpoints.Chat, "/"),
			Ingest:  strings.TrimRight(endpoints.Ingest, "/"),
			Indexer: strings.TrimRight(endpoints.Indexer, "/"),
		},
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{},
	}
}

func (c *Client) CreateConversation(ctx context.Context, title, description string) (domain.Conversation, error) {
	var conv domain.Conversation
	body := map[string]string{"title": title, "description": description}
	err := c.doJSON(ctx, http.MethodPost, c.endpoints.Chat+"/conversations", body, &conv)
	return conv, err
}

func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := c.doJSON(ctx, http.MethodGet, c.endpoints.Chat+"/conversations/"+id, nil, &conv)
	return conv, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.endpoints.Chat+"/conversations/"+conversationID+"/messages", nil, &out)
	return out.Messages, err
}

func (c *Client) ListDocuments(ctx context.Context, conversationID string) ([]domain.Document, error) {
	var out struct {
		Documents []domain.Document `json:"documents"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.endpoints.Ingest+"/conversations/"+conversationID+"/documents", nil, &out)
	return out.Documents, err
}

func (c *Client) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := c.doJSON(ctx, http.MethodGet, c.endpoints.Ingest+"/documents/"+id, nil, &doc)
	return doc, err
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.endpoints.Ingest+"/documents/"+id, nil, nil)
}

// EmbedDocument enqueues an embedding job for one document.
func (c *Client) EmbedDocument(ctx context.Context, documentID string) (queue.JobStatus, error) {
	var job queue.JobStatus
	err := c.doJSON(ctx, http.MethodPost, c.endpoints.Indexer+"/indexer/jobs", map[string]string{"documentId": documentID}, &job)
	return job, err
}

func (c *Client) GetJob(ctx context.Context, id string) (queue.JobStatus, error) {
	var job queue.JobStatus
	err := c.doJSON(ctx, http.MethodGet, c.endpoints.Indexer+"/indexer/jobs/"+id, nil, &job)
	return job, err
}

// RetryEmbeddings re-enqueues every ready document whose embeddings are not complete.
func (c *Client) RetryEmbeddings(ctx context.Context) ([]queue.JobStatus, error) {
	var out struct {
		Jobs []queue.JobStatus `json:"jobs"`
	}
	err := c.doJSON(ctx, http.MethodPost, c.endpoints.Indexer+"/indexer/retry", nil, &out)
	return out.Jobs, err
}

// StopChat asks the chat service to abort the active stream of a conversation.
func (c *Client) StopChat(ctx context.Context, conversationID string) (bool, error) {
	var out struct {
		Stopped bool `json:"stopped"`
	}
	err := c.doJSON(ctx, http.MethodDelete, c.endpoints.Chat+"/chat-stream/"+conversationID, nil, &out)
	return out.Stopped, err
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	code := errResp.Error
	if code == "" {
		code = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Code: code, Message: errResp.Message}
}

// decodeStream feeds each SSE data frame to fn until the stream ends or fn
// returns stop=true.
func decodeStream(resp *http.Response, fn func(data []byte) (stop bool, err error)) error {
	dec := ssestream.NewDecoder(resp)
	if dec == nil {
		return fmt.Errorf("empty stream response")
	}
	defer dec.Close()
	for dec.Next() {
		data := dec.Event().Data
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		stop, err := fn(data)
		if err != nil || stop {
			return err
		}
	}
	return dec.Err()
}
