package agent

import (
	"path/filepath"
	"strings"
)

// pathHintKeys are the input fields that may carry filesystem paths.
var pathHintKeys = map[string]bool{
	"path":      true,
	"file":      true,
	"file_path": true,
	"filepath":  true,
	"filename":  true,
	"dir":       true,
	"directory": true,
	"target":    true,
	"dest":      true,
	"source":    true,
}

// WithinWorkspace reports whether every path-like value nested inside
// input stays under root. Values that do not resolve under root (via
// .. segments or absolute paths elsewhere) fail the check; non-path
// fields are ignored.
func WithinWorkspace(input map[string]any, root string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	return scanValue(input, absRoot, "")
}

func scanValue(v any, absRoot, key string) bool {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if !scanValue(inner, absRoot, strings.ToLower(k)) {
				return false
			}
		}
	case []any:
		for _, inner := range val {
			if !scanValue(inner, absRoot, key) {
				return false
			}
		}
	case string:
		if pathHintKeys[key] && !pathWithin(val, absRoot) {
			return false
		}
	}
	return true
}

func pathWithin(path, absRoot string) bool {
	if strings.TrimSpace(path) == "" {
		return true
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
