package cron

import (
	"time"

	"github.com/google/uuid"
)

// Payload kinds understood by the OnJob handler.
const (
	PayloadPrompt  = "prompt"  // run the message through the agent
	PayloadDigest  = "digest"  // build the daily chat digest
	PayloadReindex = "reindex" // rebuild the memory index
)

// Schedule describes when a job fires. Exactly one of the kind-specific
// fields is meaningful: Expr for "cron", EveryMs for "every", AtMs for "at".
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"every_ms,omitempty"`
	AtMs    int64  `json:"at_ms,omitempty"`
}

type Payload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

type JobState struct {
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"created_at_ms"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	if payload.Kind == "" {
		payload.Kind = PayloadPrompt
	}
	return CronJob{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
