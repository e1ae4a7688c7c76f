package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"docchat/pkg/extract"
	"docchat/pkg/progress"
	"docchat/pkg/reasoning"
)

// ErrStreamTruncated is returned when a stream closes before its terminal frame.
var ErrStreamTruncated = errors.New("stream ended without terminal event")

// IngestError is a terminal error event from the ingestion pipeline.
type IngestError struct {
	Code    string
	Message string
}

func (e *IngestError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the failure happened while storing the upload.
func (e *IngestError) Retryable() bool {
	return e.Code == "upload_failed"
}

// UploadFile streams a file from disk to the ingest service.
func (c *Client) UploadFile(ctx context.Context, conversationID, path string, onProgress func(progress.Event)) (progress.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return progress.Event{}, err
	}
	defer f.Close()
	return c.UploadDocument(ctx, conversationID, filepath.Base(path), f, onProgress)
}

// UploadDocument posts r as a multipart file and relays progress events until
// the terminal one, which is returned. A terminal error event is returned as *IngestError.
func (c *Client) UploadDocument(ctx context.Context, conversationID, filename string, r io.Reader, onProgress func(progress.Event)) (progress.Event, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeMultipartFile(mw, filename, r)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	url := c.endpoints.Ingest + "/conversations/" + conversationID + "/documents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return progress.Event{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		pr.Close()
		return progress.Event{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return progress.Event{}, decodeAPIError(resp)
	}

	var last progress.Event
	var terminal bool
	err = decodeStream(resp, func(data []byte) (bool, error) {
		var ev progress.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, fmt.Errorf("decode progress event: %w", err)
		}
		last = ev
		if onProgress != nil {
			onProgress(ev)
		}
		terminal = ev.Terminal()
		return terminal, nil
	})
	if err != nil {
		return last, err
	}
	if !terminal {
		return last, ErrStreamTruncated
	}
	if last.Type == progress.TypeError {
		return last, &IngestError{Code: last.Error, Message: last.Message}
	}
	return last, nil
}

func writeMultipartFile(mw *multipart.Writer, filename string, r io.Reader) error {
	part, err := mw.CreatePart(fileHeader(filename))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

func fileHeader(filename string) map[string][]string {
	mediaType := "application/octet-stream"
	if format, ok := extract.FormatFor("", filename); ok {
		mediaType = extract.MediaTypeFor(format)
	}
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {mediaType},
	}
}

// StreamChat sends one user message and relays generation events. It returns
// the terminal event; a stream that closes without one yields ErrStreamTruncated.
func (c *Client) StreamChat(ctx context.Context, conversationID, message string, onEvent func(reasoning.Event)) (reasoning.Event, error) {
	data, err := json.Marshal(map[string]string{"conversationId": conversationID, "message": message})
	if err != nil {
		return reasoning.Event{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Chat+"/chat-stream", bytes.NewReader(data))
	if err != nil {
		return reasoning.Event{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return reasoning.Event{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return reasoning.Event{}, decodeAPIError(resp)
	}

	var done reasoning.Event
	err = decodeStream(resp, func(data []byte) (bool, error) {
		var ev reasoning.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return false, fmt.Errorf("decode generation event: %w", err)
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Done {
			done = ev
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return done, err
	}
	if !done.Done {
		return done, ErrStreamTruncated
	}
	return done, nil
}
