package chatlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists per-message idempotency records and per-talker
// checkpoints in a local sqlite database. Both the webhook handler and
// the backfill poller share one Store, so duplicate delivery across
// transports is caught here.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (creating if needed) the dedup database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			idempotency_key TEXT PRIMARY KEY,
			talker TEXT NOT NULL,
			message_time TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_talker ON processed_messages(talker)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			talker TEXT PRIMARY KEY,
			last_processed_time TEXT,
			last_processed_seq INTEGER,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// MarkProcessed records key as seen and reports whether this call was
// the first sighting. A false return with nil error means the message
// is a duplicate.
func (s *Store) MarkProcessed(key, talker, messageTime string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mt any
	if messageTime != "" {
		mt = messageTime
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO processed_messages (idempotency_key, talker, message_time, created_at)
		 VALUES (?, ?, ?, ?)`,
		key, talker, mt, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return n > 0, nil
}

// IsProcessed reports whether key has been recorded before, without
// recording it.
func (s *Store) IsProcessed(key string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM processed_messages WHERE idempotency_key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed: %w", err)
	}
	return true, nil
}

// LoadCheckpoint returns the stored watermark for talker, or ("", nil)
// when none exists yet.
func (s *Store) LoadCheckpoint(talker string) (string, *int64, error) {
	var t sql.NullString
	var seq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT last_processed_time, last_processed_seq FROM checkpoints WHERE talker = ?`, talker,
	).Scan(&t, &seq)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var sp *int64
	if seq.Valid {
		v := seq.Int64
		sp = &v
	}
	return t.String, sp, nil
}

// AdvanceCheckpoint moves the talker watermark forward to (messageTime,
// seq) if and only if the candidate is strictly newer than the stored
// value. Stale candidates are dropped silently, so replayed batches can
// never rewind a checkpoint.
func (s *Store) AdvanceCheckpoint(talker, messageTime string, seq *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	curTime, curSeq, err := s.loadCheckpointLocked(talker)
	if err != nil {
		return err
	}
	if curTime != "" && !newerThan(curTime, curSeq, messageTime, seq) {
		return nil
	}

	var mt, ms any
	if messageTime != "" {
		mt = messageTime
	}
	if seq != nil {
		ms = *seq
	}
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (talker, last_processed_time, last_processed_seq, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(talker) DO UPDATE SET
			last_processed_time = excluded.last_processed_time,
			last_processed_seq = excluded.last_processed_seq,
			updated_at = excluded.updated_at`,
		talker, mt, ms, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

func (s *Store) loadCheckpointLocked(talker string) (string, *int64, error) {
	var t sql.NullString
	var seq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT last_processed_time, last_processed_seq FROM checkpoints WHERE talker = ?`, talker,
	).Scan(&t, &seq)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var sp *int64
	if seq.Valid {
		v := seq.Int64
		sp = &v
	}
	return t.String, sp, nil
}

// CountProcessedOn returns how many messages for talker were recorded
// with a message time falling on day (YYYY-MM-DD).
func (s *Store) CountProcessedOn(talker, day string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM processed_messages WHERE talker = ? AND substr(message_time, 1, 10) = ?`,
		talker, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count processed: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
