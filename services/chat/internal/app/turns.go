package app

import "sync"

type activeTurn struct {
	stop chan struct{}
	once sync.Once
}

func (t *activeTurn) cancel() {
	t.once.Do(func() { close(t.stop) })
}

// turnRegistry tracks the single active stream of each conversation.
type turnRegistry struct {
	mu    sync.Mutex
	turns map[string]*activeTurn
}

func newTurnRegistry() *turnRegistry {
	return &turnRegistry{turns: make(map[string]*activeTurn)}
}

func (r *turnRegistry) begin(conversationID string) (*activeTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.turns[conversationID]; busy {
		return nil, ErrTurnInProgress
	}
	t := &activeTurn{stop: make(chan struct{})}
	r.turns[conversationID] = t
	return t, nil
}

func (r *turnRegistry) end(conversationID string, t *activeTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns[conversationID] == t {
		delete(r.turns, conversationID)
	}
}

func (r *turnRegistry) stop(conversationID string) bool {
	r.mu.Lock()
	t, ok := r.turns[conversationID]
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}
