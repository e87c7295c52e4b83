package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/stellarlinkco/memoclaw/internal/agent"
	"github.com/stellarlinkco/memoclaw/internal/memory"
)

type captureRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Bucket     string   `json:"bucket,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source,omitempty"`
	MemoryType string   `json:"type,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
}

func (s *Server) handleMemoryCapture(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store is not configured")
		return
	}

	// Decode twice: once raw for the path-containment check, once typed.
	var raw map[string]any
	body, err := decodeBoth(r, &raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return
	}
	var req captureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title and content are required")
		return
	}
	if !agent.WithinWorkspace(raw, s.cfg.Agent.Workspace) {
		writeError(w, http.StatusBadRequest, "path outside workspace")
		return
	}

	note := memory.Note{
		Title:      req.Title,
		Content:    req.Content,
		Tags:       req.Tags,
		Source:     req.Source,
		MemoryType: req.MemoryType,
		Confidence: req.Confidence,
	}

	var path string
	if req.Bucket == "" {
		path, err = s.memory.CreateInboxNote(note)
	} else {
		path, err = s.memory.CreateNote(req.Bucket, note)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

func (s *Server) handleMemoryReindex(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store is not configured")
		return
	}
	n, err := s.memory.WriteIndex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "indexed": n})
}

func decodeBoth(r *http.Request, raw *map[string]any) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, raw); err != nil {
		return nil, err
	}
	return body, nil
}
