package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer records bridge liveness as a small JSON file, overwritten on
// every beat. External monitors (and the health endpoint) read it to
// tell a quiet bridge from a dead one.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

type record struct {
	TS    string `json:"ts"`
	Event string `json:"event"`
	PID   int    `json:"pid"`
}

// Beat writes the heartbeat file with the given event label.
func (w *Writer) Beat(event string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	data, err := json.Marshal(record{
		TS:    time.Now().UTC().Format(time.RFC3339),
		Event: event,
		PID:   os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Status summarizes heartbeat freshness for the health surface.
type Status struct {
	Status     string `json:"status"`
	Event      string `json:"event,omitempty"`
	AgeSeconds int64  `json:"age_seconds,omitempty"`
}

// ReadStatus inspects the heartbeat file at path: "unknown" when it is
// missing or unreadable, "stale" when older than staleAfter, "ok"
// otherwise.
func ReadStatus(path string, now time.Time, staleAfter time.Duration) Status {
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{Status: "unknown"}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Status{Status: "unknown"}
	}
	ts, err := time.Parse(time.RFC3339, rec.TS)
	if err != nil {
		return Status{Status: "unknown", Event: rec.Event}
	}
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	st := Status{Status: "ok", Event: rec.Event, AgeSeconds: int64(age.Seconds())}
	if age > staleAfter {
		st.Status = "stale"
	}
	return st
}
