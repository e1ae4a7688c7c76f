package app

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentBusy     = errors.New("document is still being processed")
)

// Validation failure codes. They are sent to callers verbatim.
const (
	CodeChatNotFound    = "chat_not_found"
	CodeNoFile          = "no_file"
	CodeFileTooLarge    = "file_too_large"
	CodeInvalidFileType = "invalid_file_type"
)

// Run failure codes carried on the terminal error event.
const (
	CodeUploadFailed     = "upload_failed"
	CodeExtractionFailed = "extraction_failed"
	CodeIndexingFailed   = "indexing_failed"
)

// ValidationError rejects an upload before any document is created.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
