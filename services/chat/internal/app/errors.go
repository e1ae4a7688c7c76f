package app

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrTurnInProgress means the conversation already has an active generation stream.
	ErrTurnInProgress = errors.New("a response is already streaming for this conversation")
	ErrEmptyMessage   = errors.New("message required")
)
