package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"docchat/pkg/client"
	"docchat/pkg/progress"
	"docchat/pkg/uploader"
)

var (
	uploadWindow     int
	uploadRetries    int
	uploadRetryDelay time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <conversation-id> <file>...",
	Short: "Upload documents into a conversation",
	Long: `Upload one or more documents. At most --window uploads run at once and
failed uploads are retried with exponential backoff.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		conversationID := args[0]
		c := newClient()
		out := newStatusPrinter(cmd.OutOrStdout())

		q := uploader.New(func(ctx context.Context, item uploader.Item, _ int) error {
			done, err := c.UploadFile(ctx, conversationID, item.Path, func(ev progress.Event) {
				out.progress(item, ev)
			})
			if err != nil {
				return classifyUploadError(err)
			}
			out.printf("%s: stored as %s\n", filepath.Base(item.Path), done.DocumentID)
			return nil
		},
			uploader.WithWindow(uploadWindow),
			uploader.WithMaxRetries(uploadRetries),
			uploader.WithRetryDelay(uploadRetryDelay),
			uploader.WithStatus(out.status),
		)

		items := make([]uploader.Item, 0, len(args)-1)
		for i, path := range args[1:] {
			items = append(items, uploader.Item{ID: strconv.Itoa(i + 1), Path: path})
		}
		q.Add(ctx, items...)

		failed := 0
		for _, res := range q.Wait() {
			if res.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(items))
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().IntVarP(&uploadWindow, "window", "w", uploader.DefaultWindow, "concurrent uploads")
	uploadCmd.Flags().IntVar(&uploadRetries, "retries", uploader.DefaultMaxRetries, "retries per file after the first attempt")
	uploadCmd.Flags().DurationVar(&uploadRetryDelay, "retry-delay", uploader.DefaultRetryDelay, "initial retry delay")
	rootCmd.AddCommand(uploadCmd)
}

// classifyUploadError stops retries for failures a new attempt cannot fix.
func classifyUploadError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return uploader.Permanent(err)
	}
	var ingestErr *client.IngestError
	if errors.As(err, &ingestErr) && !ingestErr.Retryable() {
		return uploader.Permanent(err)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return uploader.Permanent(err)
	}
	return err
}

// statusPrinter serializes output from concurrent uploads.
type statusPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	pct map[string]int
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	return &statusPrinter{w: w, pct: make(map[string]int)}
}

func (p *statusPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *statusPrinter) status(s uploader.Status) {
	name := filepath.Base(s.Item.Path)
	switch s.State {
	case uploader.StateRetrying:
		p.printf("%s: attempt %d failed: %v, retrying\n", name, s.Attempt, s.Err)
	case uploader.StateFailed:
		p.printf("%s: failed after %d attempt(s): %v\n", name, s.Attempt, s.Err)
	case uploader.StateUploading:
		p.mu.Lock()
		p.pct[s.Item.ID] = -1
		p.mu.Unlock()
	}
}

func (p *statusPrinter) progress(item uploader.Item, ev progress.Event) {
	if ev.Type != progress.TypeProgress {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// only print each 10% step once per attempt
	step := ev.Progress / 10
	if prev, ok := p.pct[item.ID]; ok && prev >= step {
		return
	}
	p.pct[item.ID] = step
	fmt.Fprintf(p.w, "%s: %3d%% %s\n", filepath.Base(item.Path), ev.Progress, ev.Message)
}
