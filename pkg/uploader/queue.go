// Package uploader bounds the number of document uploads a caller has in flight.
// Items beyond the window wait in FIFO order; failed attempts are retried with
// exponential backoff up to a fixed count.
package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultWindow     = 3
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// State is the lifecycle of one queued item.
type State string

const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StateRetrying  State = "retrying"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Item is one file to upload.
type Item struct {
	ID   string
	Path string
}

// UploadFunc performs a single attempt. attempt starts at 1.
type UploadFunc func(ctx context.Context, item Item, attempt int) error

// Status is reported on every state change.
type Status struct {
	Item    Item
	State   State
	Attempt int
	Err     error
}

// Result is the final outcome of an item.
type Result struct {
	Item     Item
	Attempts int
	Err      error
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

type Option func(*Queue)

func WithWindow(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.window = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial backoff delay. Later delays grow exponentially.
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

// WithStatus registers a callback for state changes. It may be called from
// several goroutines at once.
func WithStatus(fn func(Status)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

// Queue runs at most window uploads at a time.
type Queue struct {
	upload     UploadFunc
	window     int
	maxRetries int
	retryDelay time.Duration
	onStatus   func(Status)

	mu      sync.Mutex
	pending []Item
	active  int
	results []Result
	wg      sync.WaitGroup
}

func New(upload UploadFunc, opts ...Option) *Queue {
	q := &Queue{
		upload:     upload,
		window:     DefaultWindow,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Add enqueues items and starts workers while the window has free slots.
func (q *Queue) Add(ctx context.Context, items ...Item) {
	for _, item := range items {
		q.notify(Status{Item: item, State: StateQueued})
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, items...)
	for q.active < q.window && len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.wg.Add(1)
		go q.work(ctx, next)
	}
}

// Wait blocks until every added item has finished and returns results in completion order.
func (q *Queue) Wait() []Result {
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Result, len(q.results))
	copy(out, q.results)
	return out
}

// Pending returns the number of items waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of uploads in flight.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue) work(ctx context.Context, item Item) {
	defer q.wg.Done()
	for {
		res := q.process(ctx, item)

		q.mu.Lock()
		q.results = append(q.results, res)
		if len(q.pending) == 0 {
			q.active--
			q.mu.Unlock()
			return
		}
		item = q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
	}
}

func (q *Queue) process(ctx context.Context, item Item) Result {
	attempt := 0
	op := func() error {
		attempt++
		q.notify(Status{Item: item, State: StateUploading, Attempt: attempt})
		return q.upload(ctx, item, attempt)
	}
	notify := func(err error, _ time.Duration) {
		q.notify(Status{Item: item, State: StateRetrying, Attempt: attempt, Err: err})
	}

	err := backoff.RetryNotify(op, q.newBackOff(ctx), notify)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		q.notify(Status{Item: item, State: StateFailed, Attempt: attempt, Err: err})
		return Result{Item: item, Attempts: attempt, Err: err}
	}
	q.notify(Status{Item: item, State: StateDone, Attempt: attempt})
	return Result{Item: item, Attempts: attempt}
}

func (q *Queue) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.retryDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(q.maxRetries)), ctx)
}

func (q *Queue) notify(s Status) {
	if q.onStatus != nil {
		q.onStatus(s)
	}
}
