// Package reasoning separates a model's inline reasoning from its visible
// answer while the output is still streaming.
package reasoning

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultStartMarker = "<think>"
	DefaultEndMarker   = "</think>"
)

const (
	TypeContent        = "content"
	TypeReasoning      = "reasoning"
	TypeReasoningStart = "reasoning_start"
	TypeReasoningEnd   = "reasoning_end"
)

// Event is one generation frame. Terminal frames carry Done (and Aborted when
// the caller cancelled) and no type.
type Event struct {
	Type    string `json:"type,omitempty"`
	Chunk   string `json:"chunk,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`
}

// DoneEvent returns the terminal frame.
func DoneEvent(aborted bool) Event {
	return Event{Done: true, Aborted: aborted}
}

// Splitter is a two-state automaton (outside / inside reasoning) over a
// rolling buffer. The buffer always keeps the last len(marker) bytes unless a
// marker is found, so a marker split across deltas is never emitted as text.
// Output is therefore the same for every partition of the input.
type Splitter struct {
	startMarker string
	endMarker   string

	inside bool
	buf    string

	content   strings.Builder
	reasoning strings.Builder
	raw       strings.Builder
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithMarkers overrides the reasoning delimiters.
func WithMarkers(start, end string) Option {
	return func(s *Splitter) {
		if start != "" && end != "" {
			s.startMarker = start
			s.endMarker = end
		}
	}
}

// NewSplitter returns a splitter in the outside-reasoning state.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{startMarker: DefaultStartMarker, endMarker: DefaultEndMarker}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Feed consumes one upstream delta and returns the events it releases.
func (s *Splitter) Feed(delta string) []Event {
	s.raw.WriteString(delta)
	s.buf += delta

	var out []Event
	for {
		marker := s.marker()
		if idx := strings.Index(s.buf, marker); idx >= 0 {
			out = s.appendText(out, s.buf[:idx])
			s.buf = s.buf[idx+len(marker):]
			if s.inside {
				out = append(out, Event{Type: TypeReasoningEnd})
			} else {
				out = append(out, Event{Type: TypeReasoningStart})
			}
			s.inside = !s.inside
			continue
		}
		cut := len(s.buf) - len(marker)
		for cut > 0 && !utf8.RuneStart(s.buf[cut]) {
			cut--
		}
		if cut > 0 {
			out = s.appendText(out, s.buf[:cut])
			s.buf = s.buf[cut:]
		}
		return out
	}
}

// Flush releases whatever is still buffered, tagged by the current state.
func (s *Splitter) Flush() []Event {
	out := s.appendText(nil, s.buf)
	s.buf = ""
	return out
}

// Inside reports whether the splitter is currently inside a reasoning block.
func (s *Splitter) Inside() bool { return s.inside }

// Content is every content byte released so far.
func (s *Splitter) Content() string { return s.content.String() }

// Reasoning is every reasoning byte released so far.
func (s *Splitter) Reasoning() string { return s.reasoning.String() }

// Raw is the unmodified concatenation of all deltas fed.
func (s *Splitter) Raw() string { return s.raw.String() }

func (s *Splitter) marker() string {
	if s.inside {
		return s.endMarker
	}
	return s.startMarker
}

func (s *Splitter) appendText(out []Event, text string) []Event {
	if text == "" {
		return out
	}
	if s.inside {
		s.reasoning.WriteString(text)
		return append(out, Event{Type: TypeReasoning, Chunk: text})
	}
	s.content.WriteString(text)
	return append(out, Event{Type: TypeContent, Chunk: text})
}
