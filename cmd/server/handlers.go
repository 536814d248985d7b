package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobiangulo/kbrag"
)

type handler struct {
	engine kbrag.Engine
}

func newHandler(e kbrag.Engine) *handler {
	return &handler{engine: e}
}

// POST /documents
// Accepts multipart file upload or JSON with an existing file path.
func (h *handler) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, ferr := r.FormFile("file")
		if ferr == nil {
			defer file.Close()

			safeName := filepath.Base(header.Filename)
			ext := strings.TrimPrefix(filepath.Ext(safeName), ".")

			tmpPath := filepath.Join(os.TempDir(), safeName)
			dst, cerr := os.Create(tmpPath)
			if cerr != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", cerr)
				return
			}
			if _, cerr := io.Copy(dst, file); cerr != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", cerr)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			subjectIDs := splitCSV(r.FormValue("subject_ids"))

			docID, err := h.engine.IngestDocument(ctx, kbrag.IngestRequest{
				DisplayName:  safeName,
				Extension:    ext,
				OriginalPath: tmpPath,
				SubjectIDs:   subjectIDs,
				CallbackURL:  r.FormValue("callback_url"),
				RequestID:    r.FormValue("request_id"),
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "ingestion failed")
				slog.Error("ingest error", "error", err)
				return
			}

			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"doc_id":   docID,
				"filename": safeName,
			})
			return
		}
	}

	var req struct {
		Path        string   `json:"path"`
		DisplayName string   `json:"display_name"`
		SubjectIDs  []string `json:"subject_ids"`
		CallbackURL string   `json:"callback_url,omitempty"`
		RequestID   string   `json:"request_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = filepath.Base(absPath)
	}
	ext := strings.TrimPrefix(filepath.Ext(absPath), ".")

	docID, err := h.engine.IngestDocument(ctx, kbrag.IngestRequest{
		DisplayName:  displayName,
		Extension:    ext,
		OriginalPath: absPath,
		SubjectIDs:   req.SubjectIDs,
		CallbackURL:  req.CallbackURL,
		RequestID:    req.RequestID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"doc_id": docID,
		"path":   absPath,
	})
}

// DELETE /documents/{doc_id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("doc_id")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "doc_id is required")
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), docID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "doc_id", docID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// POST /rag_chat
func (h *handler) handleRAGChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		SubjectID  string `json:"subject_id"`
		SessionID  string `json:"session_id,omitempty"`
		TimeoutSec int    `json:"timeout_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	var timeout time.Duration
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	resp, err := h.engine.Chat(ctx, kbrag.ChatRequest{
		Query:     req.Query,
		SubjectID: req.SubjectID,
		SessionID: req.SessionID,
		Timeout:   timeout,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat failed")
		slog.Error("chat error", "subject_id", req.SubjectID, "session_id", req.SessionID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.engine.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
