package progress

import (
	"encoding/json"
	"time"
)

// DefaultInterval is the minimum spacing between non-terminal updates.
const DefaultInterval = 100 * time.Millisecond

const (
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Event is one progress frame sent to the uploader.
type Event struct {
	Type       string
	Status     string
	Progress   int
	Message    string
	DocumentID string
	Name       string
	Error      string
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// MarshalJSON renders the wire shape for each event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeComplete:
		return json.Marshal(struct {
			Type       string `json:"type"`
			DocumentID string `json:"documentId"`
			Name       string `json:"name"`
			Progress   int    `json:"progress"`
		}{e.Type, e.DocumentID, e.Name, 100})
	case TypeError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Error   string `json:"error"`
			Message string `json:"message,omitempty"`
		}{e.Type, e.Error, e.Message})
	default:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
			Message  string `json:"message,omitempty"`
		}{TypeProgress, e.Status, e.Progress, e.Message})
	}
}

// UnmarshalJSON accepts any of the wire shapes.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string `json:"type"`
		Status     string `json:"status"`
		Progress   int    `json:"progress"`
		Message    string `json:"message"`
		DocumentID string `json:"documentId"`
		Name       string `json:"name"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event(raw)
	return nil
}

// Emitter forwards progress for a single ingestion run. Non-terminal updates
// closer together than the interval are dropped and reported progress never
// decreases. Terminal events always go out. An Emitter belongs to one run and
// is not safe for concurrent use.
type Emitter struct {
	sink     func(Event)
	interval time.Duration
	now      func() time.Time

	last     time.Time
	progress int
	done     bool
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithInterval sets the throttle interval. Zero disables throttling.
func WithInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d >= 0 {
			e.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter builds an emitter writing to sink.
func NewEmitter(sink func(Event), opts ...Option) *Emitter {
	e := &Emitter{
		sink:     sink,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Progress reports a stage update. It returns false when the update was
// throttled or the run already finished.
func (e *Emitter) Progress(status string, percent int, message string) bool {
	if e.done {
		return false
	}
	percent = max(min(percent, 100), e.progress)
	now := e.now()
	if percent < 100 && !e.last.IsZero() && now.Sub(e.last) < e.interval {
		return false
	}
	e.last = now
	e.progress = percent
	e.send(Event{Type: TypeProgress, Status: status, Progress: percent, Message: message})
	return true
}

// Complete emits the terminal success event.
func (e *Emitter) Complete(documentID, name string) {
	if e.done {
		return
	}
	e.done = true
	e.progress = 100
	e.send(Event{Type: TypeComplete, DocumentID: documentID, Name: name, Progress: 100})
}

// Fail emits the terminal error event.
func (e *Emitter) Fail(code, message string) {
	if e.done {
		return
	}
	e.done = true
	e.send(Event{Type: TypeError, Error: code, Message: message})
}

// Current returns the last reported percentage.
func (e *Emitter) Current() int {
	return e.progress
}

func (e *Emitter) send(ev Event) {
	if e.sink != nil {
		e.sink(ev)
	}
}
