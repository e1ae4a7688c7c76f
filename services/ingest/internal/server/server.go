package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docchat/internal/ratelimit"
	"docchat/internal/util"
	"docchat/services/ingest/internal/app"
)

// multipartOverhead covers form boundaries and headers on top of the file itself.
const multipartOverhead = 1 << 20

// Limiter throttles upload starts per caller.
type Limiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	UploadLimiter  Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the ingest service.
type Server struct {
	app     *app.App
	limiter Limiter
	proxies *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.UploadLimiter,
		proxies: cfg.TrustedProxies,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("ingest", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/conversations/", s.handleConversationDocuments)
	s.mux.HandleFunc("/documents/", s.handleDocument)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /conversations/{id}/documents
func (s *Server) handleConversationDocuments(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "documents" {
		http.NotFound(w, r)
		return
	}
	conversationID := parts[0]
	switch r.Method {
	case http.MethodGet:
		docs, err := s.app.ListDocuments(r.Context(), conversationID)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("list documents", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to list documents")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
	case http.MethodPost:
		s.handleUpload(w, r, conversationID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, conversationID string) {
	logger := util.LoggerFromContext(r.Context())
	if s.limiter != nil {
		decision := s.limiter.Allow(r.Context(), util.ClientIP(r, s.proxies))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "too many uploads")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxFileSize()+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeValidation(w, &app.ValidationError{Code: app.CodeFileTooLarge, Message: "file exceeds size limit"})
		case errors.Is(err, http.ErrMissingFile):
			writeValidation(w, &app.ValidationError{Code: app.CodeNoFile, Message: "no file provided"})
		default:
			writeError(w, http.StatusBadRequest, "invalid multipart body")
		}
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	run, err := s.app.Ingest(r.Context(), app.Upload{
		ConversationID: conversationID,
		Filename:       header.Filename,
		MediaType:      header.Header.Get("Content-Type"),
		Size:           header.Size,
		Data:           data,
	})
	if err != nil {
		var verr *app.ValidationError
		if errors.As(err, &verr) {
			writeValidation(w, verr)
			return
		}
		logger.Error("start ingestion", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to start ingestion")
		return
	}

	sse, err := util.NewSSEWriter(w)
	if err != nil {
		run.Detach()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for {
		select {
		case <-r.Context().Done():
			run.Detach()
			logger.Info("upload client disconnected", "document_id", run.DocumentID)
			return
		case ev, ok := <-run.Events():
			if !ok {
				return
			}
			if err := sse.Send(ev); err != nil {
				run.Detach()
				logger.Info("progress stream closed", "document_id", run.DocumentID, "err", err)
				return
			}
		}
	}
}

// /documents/{id} and /documents/{id}/file
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 2 {
		if parts[1] != "file" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.serveFile(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, id string) {
	doc, rc, err := s.app.OpenFile(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", doc.MediaType)
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(doc.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("serve document file", "document_id", id, "err", err)
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, app.ErrDocumentBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("document request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationStatus(code string) int {
	switch code {
	case app.CodeChatNotFound:
		return http.StatusNotFound
	case app.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case app.CodeInvalidFileType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func writeValidation(w http.ResponseWriter, verr *app.ValidationError) {
	writeJSON(w, validationStatus(verr.Code), map[string]string{"error": verr.Code, "message": verr.Message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
