package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IndexEntry is one note's row in _index.json.
type IndexEntry struct {
	Path      string   `json:"path"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updated_at"`
	Mtime     int64    `json:"mtime"`
	Size      int64    `json:"size"`
	Summary   string   `json:"summary"`
}

// WriteIndex rebuilds <memory>/_index.json from the bucket contents,
// newest first, and returns the number of indexed notes.
func (s *Store) WriteIndex() (int, error) {
	dir := s.Dir()
	var entries []IndexEntry
	for _, bucket := range Buckets {
		bdir := filepath.Join(dir, bucket)
		files, err := os.ReadDir(bdir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read bucket %s: %w", bucket, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
				continue
			}
			path := filepath.Join(bdir, f.Name())
			info, err := f.Info()
			if err != nil {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			meta, body := parseFrontmatter(string(data))
			entries = append(entries, IndexEntry{
				Path:      filepath.Join(bucket, f.Name()),
				Title:     meta["title"],
				Type:      meta["type"],
				Tags:      splitTags(meta["tags"]),
				UpdatedAt: meta["updated_at"],
				Mtime:     info.ModTime().Unix(),
				Size:      info.Size(),
				Summary:   summarize(body),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Mtime != entries[j].Mtime {
			return entries[i].Mtime > entries[j].Mtime
		}
		return entries[i].Path < entries[j].Path
	})

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "_index.json"), out, 0o644); err != nil {
		return 0, fmt.Errorf("write index: %w", err)
	}
	return len(entries), nil
}

// ReadIndex loads _index.json, returning an empty slice when the index
// has not been written yet.
func (s *Store) ReadIndex() ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(), "_index.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return entries, nil
}

// parseFrontmatter splits a note into its header map and body. Notes
// without a frontmatter block return an empty map and the whole text
// as body.
func parseFrontmatter(text string) (map[string]string, string) {
	meta := map[string]string{}
	if !strings.HasPrefix(text, "---\n") {
		return meta, text
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, text
	}
	header := rest[:end]
	body := rest[end+4:]
	for _, line := range strings.Split(header, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return meta, strings.TrimPrefix(body, "\n")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func summarize(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) > 160 {
			return line[:160]
		}
		return line
	}
	return ""
}
