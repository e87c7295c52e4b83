package memory

import (
	"fmt"
	"strings"
)

var memoryQueryHints = []string{
	"remember", "memory", "memories", "note", "notes", "wrote down",
	"记得", "记忆", "笔记", "记录",
}

// IsMemoryQuery reports whether a chat message looks like it is asking
// about stored memories, so the caller knows to inject memory context
// into the prompt.
func IsMemoryQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, h := range memoryQueryHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// BuildContext renders the newest notes as a compact text block for
// prompt injection, bounded by maxFiles notes and maxChars characters.
func (s *Store) BuildContext(maxFiles, maxChars int) (string, error) {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if maxChars <= 0 {
		maxChars = 4000
	}
	entries, err := s.ReadIndex()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		if _, err := s.WriteIndex(); err != nil {
			return "", err
		}
		if entries, err = s.ReadIndex(); err != nil {
			return "", err
		}
	}
	if len(entries) == 0 {
		return "", nil
	}
	if len(entries) > maxFiles {
		entries = entries[:maxFiles]
	}

	var b strings.Builder
	b.WriteString("Recent memory notes:\n")
	for _, e := range entries {
		line := fmt.Sprintf("- [%s] %s", e.Type, e.Title)
		if e.Summary != "" {
			line += ": " + e.Summary
		}
		line += "\n"
		if b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	return b.String(), nil
}
