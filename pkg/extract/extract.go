// Package extract turns stored document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"docchat/pkg/domain"
)

// ErrUnsupportedFormat is returned for formats without an extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrNoText is returned when a document yields no text at all.
var ErrNoText = errors.New("no text extracted")

// ProgressFunc receives the fraction of work done in [0, 1] and a short message.
type ProgressFunc func(fraction float64, message string)

// Extractor produces raw text for a document. Cleaning is left to the caller.
type Extractor interface {
	Extract(ctx context.Context, data []byte, format domain.Format, onProgress ProgressFunc) (string, error)
}

var mediaTypeFormats = map[string]domain.Format{
	"application/pdf":       domain.FormatPDF,
	"text/markdown":         domain.FormatMarkdown,
	"text/x-markdown":       domain.FormatMarkdown,
	"text/plain":            domain.FormatText,
	"text/html":             domain.FormatHTML,
	"application/xhtml+xml": domain.FormatHTML,
	"application/epub+zip":  domain.FormatEPUB,
}

var extensionFormats = map[string]domain.Format{
	".pdf":      domain.FormatPDF,
	".md":       domain.FormatMarkdown,
	".markdown": domain.FormatMarkdown,
	".txt":      domain.FormatText,
	".html":     domain.FormatHTML,
	".htm":      domain.FormatHTML,
	".epub":     domain.FormatEPUB,
}

// NormalizeMediaType strips parameters and lowercases a Content-Type value.
func NormalizeMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// FormatFor resolves a document format from its media type, falling back to the
// file extension for generic types such as application/octet-stream.
func FormatFor(mediaType, filename string) (domain.Format, bool) {
	if f, ok := mediaTypeFormats[NormalizeMediaType(mediaType)]; ok {
		return f, true
	}
	f, ok := extensionFormats[strings.ToLower(filepath.Ext(filename))]
	return f, ok
}

// MediaTypeFor returns the canonical media type for a format.
func MediaTypeFor(format domain.Format) string {
	switch format {
	case domain.FormatPDF:
		return "application/pdf"
	case domain.FormatMarkdown:
		return "text/markdown"
	case domain.FormatHTML:
		return "text/html"
	case domain.FormatEPUB:
		return "application/epub+zip"
	default:
		return "text/plain"
	}
}

// Default dispatches on format.
type Default struct {
	// DisablePdftotext skips the poppler binary even when it is installed.
	DisablePdftotext bool
}

// New returns the default extractor.
func New() *Default {
	return &Default{}
}

func (d *Default) Extract(ctx context.Context, data []byte, format domain.Format, onProgress ProgressFunc) (string, error) {
	if onProgress == nil {
		onProgress = func(float64, string) {}
	}
	var (
		text string
		err  error
	)
	switch format {
	case domain.FormatMarkdown, domain.FormatText:
		text = strings.ToValidUTF8(string(data), "")
		onProgress(1, "Read text")
	case domain.FormatPDF:
		text, err = d.extractPDF(ctx, data, onProgress)
	case domain.FormatHTML:
		text, err = extractHTML(data)
		onProgress(1, "Parsed HTML")
	case domain.FormatEPUB:
		text, err = extractEPUB(ctx, data, onProgress)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
