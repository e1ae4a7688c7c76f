package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/ratelimit"
	"docchat/pkg/ai"
	"docchat/pkg/client"
	"docchat/pkg/domain"
	"docchat/pkg/reasoning"
	"docchat/pkg/store"
	"docchat/services/chat/internal/app"
)

// blockingGenerator sends its first delta, then waits for release or cancellation.
type blockingGenerator struct {
	first   string
	release chan struct{}
	err     error
}

func (g *blockingGenerator) StreamChat(ctx context.Context, _ []ai.ChatMessage, _ string) (ai.TextStream, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &blockingStream{ctx: ctx, gen: g}, nil
}

type blockingStream struct {
	ctx  context.Context
	gen  *blockingGenerator
	sent bool
}

func (s *blockingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return s.gen.first, nil
	}
	if s.gen.release == nil {
		return "", io.EOF
	}
	select {
	case <-s.gen.release:
		return "", io.EOF
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *blockingStream) Close() error { return nil }

type denyAll struct{}

func (denyAll) Allow(context.Context, string) ratelimit.Decision {
	return ratelimit.Decision{RetryAfter: time.Second}
}

func newTestServer(t *testing.T, gen ai.StreamGenerator, limiter Limiter) (*store.MemoryStore, *client.Client) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: st, Generator: gen})
	require.NoError(t, err)
	srv := httptest.NewServer(New(Config{App: a, TurnLimiter: limiter}).Router())
	t.Cleanup(srv.Close)
	return st, client.New(client.Endpoints{Chat: srv.URL})
}

func TestConversationLifecycleAndStream(t *testing.T) {
	_, c := newTestServer(t, &blockingGenerator{first: "<think>hmm</think>Hello there"}, nil)
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, "Docs", "manuals")
	require.NoError(t, err)
	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Docs", got.Title)

	var events []reasoning.Event
	done, err := c.StreamChat(ctx, conv.ID, "hi", func(ev reasoning.Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.False(t, done.Aborted)
	assert.Equal(t, reasoning.TypeReasoningStart, events[0].Type)

	msgs, err := c.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello there", msgs[1].Content)
	assert.Equal(t, "hmm", msgs[1].Metadata.Reasoning)
}

func TestStopEndpointAbortsActiveStream(t *testing.T) {
	gen := &blockingGenerator{first: "a partial answer that keeps going", release: make(chan struct{})}
	st, c := newTestServer(t, gen, nil)
	ctx := context.Background()
	conv, err := c.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	firstFrame := make(chan struct{}, 1)
	type outcome struct {
		done reasoning.Event
		err  error
	}
	result := make(chan outcome, 1)
	go func() {
		done, err := c.StreamChat(ctx, conv.ID, "q", func(ev reasoning.Event) {
			if ev.Type == reasoning.TypeContent {
				select {
				case firstFrame <- struct{}{}:
				default:
				}
			}
		})
		result <- outcome{done, err}
	}()
	<-firstFrame

	// a second turn while the first is streaming is rejected
	_, err = c.StreamChat(ctx, conv.ID, "again", nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	stopped, err := c.StopChat(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, stopped)

	out := <-result
	require.NoError(t, out.err)
	assert.True(t, out.done.Aborted)

	msgs, err := st.ListMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.True(t, strings.HasPrefix("a partial answer that keeps going", msgs[1].Content))

	stopped, err = c.StopChat(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestChatStreamErrors(t *testing.T) {
	_, c := newTestServer(t, &blockingGenerator{err: errors.New("model offline")}, nil)
	ctx := context.Background()

	_, err := c.StreamChat(ctx, "missing", "hi", nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	conv, err := c.CreateConversation(ctx, "t", "")
	require.NoError(t, err)
	_, err = c.StreamChat(ctx, conv.ID, " ", nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.StreamChat(ctx, conv.ID, "hi", nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestChatStreamRateLimited(t *testing.T) {
	_, c := newTestServer(t, &blockingGenerator{first: "x"}, denyAll{})
	conv, err := c.CreateConversation(context.Background(), "t", "")
	require.NoError(t, err)

	_, err = c.StreamChat(context.Background(), conv.ID, "hi", nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}
