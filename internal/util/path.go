package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DestinationPath joins a slash-separated relative path onto dir and rejects
// results that would land outside dir.
func DestinationPath(dir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty relative path")
	}
	base := filepath.Clean(dir)
	target := filepath.Join(base, filepath.FromSlash(strings.TrimLeft(rel, "/")))
	inside, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("relative path %q escapes download directory", rel)
	}
	return target, nil
}

// ObjectKey normalizes a relative path into a slash-separated object key.
func ObjectKey(rel string) string {
	return strings.TrimLeft(filepath.ToSlash(rel), "/")
}
