package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/stellarlinkco/memoclaw/internal/agent"
	"github.com/stellarlinkco/memoclaw/internal/memory"
)

type chatRequest struct {
	Message         string `json:"message"`
	ConversationID  string `json:"conversation_id,omitempty"`
	NewConversation bool   `json:"new_conversation,omitempty"`
}

type chatResponse struct {
	Reply      string `json:"reply"`
	SessionID  string `json:"session_id"`
	NewSession bool   `json:"new_session"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	sessionID, isNew := agent.ResolveSessionID(req.ConversationID, req.NewConversation)

	prompt := req.Message
	if s.memory != nil && memory.IsMemoryQuery(req.Message) {
		if ctx, err := s.memory.BuildContext(20, 4000); err != nil {
			log.Printf("[server] memory context: %v", err)
		} else if ctx != "" {
			prompt = fmt.Sprintf("[Memory Index]\n%s\n\n[User Message]\n%s", ctx, req.Message)
		}
	}

	if s.sessions != nil {
		_ = s.sessions.LogEvent("user_message", map[string]any{
			"session_id": sessionID,
			"content":    req.Message,
		})
	}

	reply, err := s.runner.Run(r.Context(), prompt, sessionID)
	if err != nil {
		log.Printf("[server] chat run: %v", err)
		writeError(w, http.StatusBadGateway, "agent request failed")
		return
	}

	if s.sessions != nil {
		_ = s.sessions.LogEvent("assistant_message", map[string]any{
			"session_id": sessionID,
			"content":    reply,
		})
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:      reply,
		SessionID:  sessionID,
		NewSession: isNew,
	})
}
