package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stellarlinkco/memoclaw/internal/chatlog"
)

func (s *Server) handleTargetsList(w http.ResponseWriter, r *http.Request) {
	list, err := s.targets.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list targets failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

type targetUpsertRequest struct {
	Talker string `json:"talker"`
	chatlog.TargetUpdate
}

func (s *Server) handleTargetsUpsert(w http.ResponseWriter, r *http.Request) {
	var req targetUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return
	}
	req.Talker = strings.TrimSpace(req.Talker)
	if req.Talker == "" {
		writeError(w, http.StatusUnprocessableEntity, "talker is required")
		return
	}

	target, err := s.targets.Upsert(req.Talker, req.TargetUpdate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upsert target failed")
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleTargetsRemove(w http.ResponseWriter, r *http.Request) {
	talker := r.PathValue("talker")
	removed, err := s.targets.Remove(talker)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "remove target failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}
