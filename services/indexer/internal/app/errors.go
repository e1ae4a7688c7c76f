package app

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentNotReady means the document has not finished ingestion or is already embedding.
	ErrDocumentNotReady = errors.New("document not ready for embedding")
	ErrJobNotFound      = errors.New("job not found")
)
