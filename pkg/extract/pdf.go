package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF tries pdftotext first (better layout handling), then the pure Go reader.
func (d *Default) extractPDF(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error) {
	if !d.DisablePdftotext {
		text, err := pdftotext(ctx, data)
		if err == nil && strings.TrimSpace(text) != "" {
			onProgress(1, "Extracted PDF text")
			return text, nil
		}
		slog.Debug("pdftotext unavailable, using go reader", "err", err)
	}
	return readPDF(ctx, data, onProgress)
}

func pdftotext(ctx context.Context, data []byte) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	tmp, err := os.CreateTemp("", "docchat-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	return string(out), nil
}

func readPDF(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	var b strings.Builder
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
		onProgress(float64(i)/float64(total), fmt.Sprintf("Extracted page %d of %d", i, total))
	}
	return b.String(), nil
}
