package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Buckets are the fixed top-level memory categories, in display order.
var Buckets = []string{
	"00_Inbox",
	"10_Growth",
	"20_Connections",
	"30_Wealth",
	"40_ProductMind",
}

// Store manages the markdown memory tree under <root>/memory. Notes
// are plain files with a small frontmatter header, one note per file,
// so the whole store stays greppable and editable by hand.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Dir returns the memory root directory.
func (s *Store) Dir() string {
	return filepath.Join(s.root, "memory")
}

// EnsureLayout creates the memory root and every bucket directory.
func (s *Store) EnsureLayout() (string, error) {
	dir := s.Dir()
	for _, b := range Buckets {
		if err := os.MkdirAll(filepath.Join(dir, b), 0o755); err != nil {
			return "", fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return dir, nil
}

// Note describes one memory entry to be written.
type Note struct {
	Title      string
	Content    string
	Tags       []string
	Source     string
	MemoryType string
	Confidence string
}

// CreateNote writes a note into bucket and refreshes the index.
// Returns the path of the new file.
func (s *Store) CreateNote(bucket string, n Note) (string, error) {
	if !validBucket(bucket) {
		return "", fmt.Errorf("unknown memory bucket %q", bucket)
	}
	if _, err := s.EnsureLayout(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%s-%s.md",
		now.Format("20060102-150405"),
		uuid.NewString()[:6],
		slugify(n.Title),
	)
	path := filepath.Join(s.Dir(), bucket, name)

	if n.MemoryType == "" {
		n.MemoryType = "note"
	}
	if n.Confidence == "" {
		n.Confidence = "medium"
	}
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %s\n", sanitizeLine(n.Title))
	fmt.Fprintf(&b, "type: %s\n", n.MemoryType)
	fmt.Fprintf(&b, "tags: %s\n", strings.Join(n.Tags, ", "))
	fmt.Fprintf(&b, "source: %s\n", sanitizeLine(n.Source))
	fmt.Fprintf(&b, "updated_at: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "confidence: %s\n", n.Confidence)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(n.Content))
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	if _, err := s.WriteIndex(); err != nil {
		return "", err
	}
	return path, nil
}

// CreateInboxNote drops a note into 00_Inbox for later triage.
func (s *Store) CreateInboxNote(n Note) (string, error) {
	return s.CreateNote("00_Inbox", n)
}

func validBucket(bucket string) bool {
	for _, b := range Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	if slug == "" {
		slug = "note"
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug
}

func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
