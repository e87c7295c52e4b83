package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/memoclaw/internal/chatlog"
	"github.com/stellarlinkco/memoclaw/internal/memory"
)

type webhookRequest struct {
	Talker   string            `json:"talker"`
	Messages []chatlog.Message `json:"messages"`
}

type webhookResponse struct {
	OK       bool   `json:"ok"`
	Talker   string `json:"talker"`
	Accepted int    `json:"accepted"`
	Mode     string `json:"mode"`
}

func ingestMode(talker string) string {
	if chatlog.IsGroupTalker(talker) {
		return "group_digest"
	}
	return "contact_realtime"
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	token := s.cfg.Chatlog.WebhookToken
	got := r.Header.Get("X-Webhook-Token")
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		writeError(w, http.StatusForbidden, "invalid webhook token")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return
	}
	req.Talker = strings.TrimSpace(req.Talker)
	if req.Talker == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "talker and at least one message are required")
		return
	}

	target, err := s.targets.Get(req.Talker)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load target policy failed")
		return
	}
	if target != nil && !target.Enabled {
		writeJSON(w, http.StatusOK, webhookResponse{
			OK: true, Talker: req.Talker, Accepted: 0, Mode: ingestMode(req.Talker),
		})
		return
	}

	res, err := s.ing.IngestPush(req.Talker, target, req.Messages)
	if err != nil {
		log.Printf("[server] webhook ingest %s: %v", req.Talker, err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	if s.counters != nil {
		s.counters.RecordWebhook(len(res.Accepted), res.Deduped)
	}

	if len(res.Accepted) > 0 && s.memory != nil {
		if err := s.writeChatNote(req.Talker, target, res.Accepted); err != nil {
			log.Printf("[server] webhook note %s: %v", req.Talker, err)
		}
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		OK:       true,
		Talker:   req.Talker,
		Accepted: len(res.Accepted),
		Mode:     ingestMode(req.Talker),
	})
}

// writeChatNote persists one accepted webhook batch as a memory note in
// the talker's bucket.
func (s *Server) writeChatNote(talker string, target *chatlog.Target, msgs []chatlog.Message) error {
	var sb strings.Builder
	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.Sender
		}
		if sender == "" {
			sender = "unknown"
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", m.Time, sender, m.Content)
	}

	bucket := chatlog.BucketFor(talker, target)
	safeTalker := strings.ReplaceAll(talker, "@", "_")
	_, err := s.memory.CreateNote(bucket, memory.Note{
		Title:      fmt.Sprintf("Chat %s %s", safeTalker, time.Now().Format("2006-01-02 15:04")),
		Content:    sb.String(),
		Tags:       []string{"chatlog", safeTalker},
		Source:     "chatlog_webhook",
		MemoryType: "chatlog",
	})
	return err
}
