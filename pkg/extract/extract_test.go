package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/pkg/domain"
)

func TestFormatFor(t *testing.T) {
	cases := []struct {
		mediaType string
		filename  string
		want      domain.Format
		ok        bool
	}{
		{"application/pdf", "a.bin", domain.FormatPDF, true},
		{"text/markdown; charset=utf-8", "a", domain.FormatMarkdown, true},
		{"text/x-markdown", "a", domain.FormatMarkdown, true},
		{"TEXT/PLAIN", "a", domain.FormatText, true},
		{"application/octet-stream", "notes.MD", domain.FormatMarkdown, true},
		{"application/octet-stream", "image.png", "", false},
	}
	for _, tc := range cases {
		got, ok := FormatFor(tc.mediaType, tc.filename)
		assert.Equal(t, tc.ok, ok, tc.mediaType)
		assert.Equal(t, tc.want, got, tc.mediaType)
	}
}

func TestExtractTextReportsProgress(t *testing.T) {
	var fractions []float64
	text, err := New().Extract(context.Background(), []byte("# Title\n\nbody"), domain.FormatMarkdown, func(f float64, _ string) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", text)
	assert.Equal(t, []float64{1}, fractions)
}

func TestExtractEmptyTextFails(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte("   \n"), domain.FormatText, nil)
	assert.True(t, errors.Is(err, ErrNoText))
}

func TestExtractHTMLSkipsScripts(t *testing.T) {
	page := `<html><head><title>t</title><script>var x</script></head><body><h1>Head</h1><p>One</p><p>Two</p></body></html>`
	text, err := New().Extract(context.Background(), []byte(page), domain.FormatHTML, nil)
	require.NoError(t, err)
	assert.NotContains(t, text, "var x")
	assert.Equal(t, "Head\nOne\nTwo", strings.TrimSpace(text))
}

func TestExtractEPUBReadsSectionsInOrder(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"OEBPS/ch2.xhtml": "<p>second</p>",
		"OEBPS/ch1.xhtml": "<p>first</p>",
		"mimetype":        "application/epub+zip",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var calls int
	text, err := New().Extract(context.Background(), buf.Bytes(), domain.FormatEPUB, func(float64, string) { calls++ })
	require.NoError(t, err)
	assert.Less(t, strings.Index(text, "first"), strings.Index(text, "second"))
	assert.Equal(t, 2, calls)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte("x"), domain.Format("docx"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
