package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionLogger appends structured chat events to one JSONL file per
// process run, for offline inspection of what the assistant was asked
// and answered.
type SessionLogger struct {
	path string
	mu   sync.Mutex
}

// NewSessionLogger creates a logger writing under dir, one file per
// start.
func NewSessionLogger(dir string) (*SessionLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("chat-%s-%s.jsonl",
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8],
	)
	return &SessionLogger{path: filepath.Join(dir, name)}, nil
}

// Path returns the log file location.
func (l *SessionLogger) Path() string {
	return l.path
}

// LogEvent appends one event line. Failures are returned, not fatal;
// callers typically just log them.
func (l *SessionLogger) LogEvent(event string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"event": event,
	}
	for k, v := range data {
		record[k] = v
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode log event: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return nil
}
