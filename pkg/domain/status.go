package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change would move a
// document backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

var processingTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusUploading:  {StatusExtracting, StatusError},
	StatusExtracting: {StatusIndexing, StatusError},
	StatusIndexing:   {StatusReady, StatusError},
}

// IsTerminal reports whether no further processing transition is allowed.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusError
}

// CanTransitionTo reports whether next directly follows s in the pipeline or
// is the error state.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range processingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition wrapped with both states
// when the move is not allowed.
func ValidateTransition(from, to ProcessingStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanStartEmbedding reports whether vector generation may begin for d. Only
// the processing axis matters; a generating run may be restarted.
func (d Document) CanStartEmbedding() bool {
	return d.ProcessingStatus == StatusReady
}
