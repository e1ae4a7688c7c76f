package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s TextStream) []string {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, delta)
	}
}

func TestBuildMessagesAddsSystemPromptOnlyWithContext(t *testing.T) {
	history := []ChatMessage{{Role: "user", Content: "hi"}}

	msgs := BuildMessages(history, "")
	assert.Equal(t, history, msgs)

	msgs = BuildMessages(history, "# doc\n\ntext")
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, DocumentSystemPrompt))
	assert.True(t, strings.HasSuffix(msgs[0].Content, "# doc\n\ntext"))
}

func TestOllamaGeneratorStreamsAndSkipsMalformedLines(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"<think>"},"done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"hm</think>"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Answer"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3", "30m")
	stream, err := gen.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "q"}}, "ctx")
	require.NoError(t, err)
	assert.Equal(t, []string{"<think>", "hm</think>", "Answer"}, drain(t, stream))

	assert.True(t, got.Stream)
	assert.Equal(t, "30m", got.KeepAlive)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOllamaGeneratorReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(NewOllamaClient(srv.URL), "missing", "")
	_, err := gen.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "q"}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaEmbedderFallsBackToLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			w.WriteHeader(http.StatusNotFound)
		case "/api/embeddings":
			_, _ = w.Write([]byte(`{"embedding":[0.5,0.25]}`))
		}
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(NewOllamaClient(srv.URL), "nomic-embed-text", 0)
	vec, err := emb.EmbedText(context.Background(), "hello", TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
	assert.Equal(t, "nomic-embed-text", emb.ModelName())
}

func TestGeminiGeneratorStreamsSSE(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]}}]}\n\n")
	}))
	defer srv.Close()

	client, err := NewGeminiClient("key")
	require.NoError(t, err)
	gen := NewGeminiGenerator(client.WithBaseURL(srv.URL), "gemini-2.0-flash")
	stream, err := gen.StreamChat(context.Background(), []ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}, "context")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, drain(t, stream))

	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
}

func TestOpenAIGeneratorStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(srv.URL+"/v1", "test", "m")
	stream, err := gen.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "q"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, drain(t, stream))
}

func TestOpenAIEmbedderRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(srv.URL+"/v1", "test", "m", 0)
	emb.maxElapsed = 5 * time.Second
	vec, err := emb.EmbedText(context.Background(), "hello", TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Len(t, vec, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedderDoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input"}}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(srv.URL+"/v1", "test", "m", 0)
	_, err := emb.EmbedText(context.Background(), "hello", TaskRetrievalDocument)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
