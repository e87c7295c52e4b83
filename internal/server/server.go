package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/stellarlinkco/memoclaw/internal/agent"
	"github.com/stellarlinkco/memoclaw/internal/chatlog"
	"github.com/stellarlinkco/memoclaw/internal/config"
	"github.com/stellarlinkco/memoclaw/internal/heartbeat"
	"github.com/stellarlinkco/memoclaw/internal/memory"
)

// Server hosts the HTTP API: the chatlog push webhook, target policy
// management, the health surface, the chat endpoint, and the memory
// capture/reindex operations.
type Server struct {
	cfg      *config.Config
	ing      *chatlog.Ingestor
	targets  *chatlog.TargetStore
	counters *chatlog.Counters
	memory   *memory.Store
	runner   agent.Runner
	sessions *agent.SessionLogger
	mux      *http.ServeMux
}

// Deps are the collaborators the server routes requests to. Runner and
// Sessions may be nil; the chat endpoint then reports unavailable.
type Deps struct {
	Ingestor *chatlog.Ingestor
	Targets  *chatlog.TargetStore
	Counters *chatlog.Counters
	Memory   *memory.Store
	Runner   agent.Runner
	Sessions *agent.SessionLogger
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		ing:      deps.Ingestor,
		targets:  deps.Targets,
		counters: deps.Counters,
		memory:   deps.Memory,
		runner:   deps.Runner,
		sessions: deps.Sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/memory/capture", s.handleMemoryCapture)
	mux.HandleFunc("POST /api/memory/reindex", s.handleMemoryReindex)
	if cfg.Chatlog.Enabled {
		mux.HandleFunc("POST /api/integrations/chatlog/webhook", s.handleWebhook)
		mux.HandleFunc("GET /api/integrations/chatlog/targets", s.handleTargetsList)
		mux.HandleFunc("POST /api/integrations/chatlog/targets/upsert", s.handleTargetsUpsert)
		mux.HandleFunc("DELETE /api/integrations/chatlog/targets/{talker}", s.handleTargetsRemove)
	}
	s.mux = mux
	return s
}

// Handler returns the routing mux, for mounting into an http.Server or
// an httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	bridge := heartbeat.ReadStatus(s.cfg.HeartbeatPath(), time.Now(), 10*time.Minute)

	body := map[string]any{
		"backend": "memoclaw",
		"bridge":  bridge,
	}
	degraded := bridge.Status == "stale"

	if s.cfg.Chatlog.Enabled && s.counters != nil {
		snap := s.counters.Snapshot()
		signals := chatlog.ComputeSignals(snap, chatlog.Thresholds{
			ErrorStreak:   s.cfg.Chatlog.ErrorStreakThreshold,
			DedupRatio:    s.cfg.Chatlog.DedupRatioThreshold,
			DedupMinTotal: int64(s.cfg.Chatlog.DedupMinTotal),
		})
		body["chatlog"] = map[string]any{
			"enabled":  true,
			"counters": snap,
			"signals":  signals,
		}
		if signals.Degraded() {
			degraded = true
		}
	} else {
		body["chatlog"] = map[string]any{"enabled": false}
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}
