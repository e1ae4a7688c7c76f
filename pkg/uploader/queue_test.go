package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{ID: fmt.Sprintf("f%d", i)}
	}
	return out
}

func TestQueueBoundsInFlightUploads(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	upload := func(ctx context.Context, _ Item, _ int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}

	q := New(upload, WithWindow(3))
	q.Add(context.Background(), items(7)...)

	require.Eventually(t, func() bool { return inFlight.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 4, q.Pending())
	assert.Equal(t, 3, q.Active())

	close(release)
	results := q.Wait()
	require.Len(t, results, 7)
	assert.Equal(t, int32(3), peak.Load())
	assert.Zero(t, q.Active())
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, 1, r.Attempts)
	}
}

func TestQueueStartsOverflowInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var started []string
	upload := func(_ context.Context, item Item, _ int) error {
		mu.Lock()
		started = append(started, item.ID)
		mu.Unlock()
		return nil
	}

	q := New(upload, WithWindow(1))
	q.Add(context.Background(), items(5)...)
	q.Wait()

	assert.Equal(t, []string{"f0", "f1", "f2", "f3", "f4"}, started)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var states []State
	var mu sync.Mutex
	upload := func(_ context.Context, _ Item, attempt int) error {
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	}
	q := New(upload, WithRetryDelay(time.Millisecond), WithStatus(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}))
	q.Add(context.Background(), Item{ID: "a"})
	results := q.Wait()

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, []State{
		StateQueued,
		StateUploading, StateRetrying,
		StateUploading, StateRetrying,
		StateUploading, StateDone,
	}, states)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("server unavailable")
	upload := func(context.Context, Item, int) error {
		calls.Add(1)
		return boom
	}
	q := New(upload, WithRetryDelay(time.Millisecond), WithMaxRetries(3))
	q.Add(context.Background(), Item{ID: "a"})
	results := q.Wait()

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, 4, results[0].Attempts)
	assert.Equal(t, int32(4), calls.Load())
}

func TestQueueDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	invalid := errors.New("invalid_file_type")
	upload := func(context.Context, Item, int) error {
		calls.Add(1)
		return Permanent(invalid)
	}
	q := New(upload, WithRetryDelay(time.Millisecond))
	q.Add(context.Background(), Item{ID: "a"})
	results := q.Wait()

	require.Len(t, results, 1)
	assert.Equal(t, invalid, results[0].Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueueStopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	upload := func(context.Context, Item, int) error {
		cancel()
		return errors.New("timeout")
	}
	q := New(upload, WithRetryDelay(time.Hour))
	q.Add(ctx, Item{ID: "a"})

	done := make(chan []Result)
	go func() { done <- q.Wait() }()
	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.Error(t, results[0].Err)
		assert.Equal(t, 1, results[0].Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("queue kept retrying after cancellation")
	}
}
