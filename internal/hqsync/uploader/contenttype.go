package uploader

import (
	"mime"
	"path/filepath"
	"strings"
)

// detectContentType infers a Content-Type from relPath's extension,
// grounded on the teacher's internal/utils/content_type.go: a few
// well-known text formats are forced to text/plain so they render
// inline, everything else falls through to the standard mime registry,
// defaulting to application/octet-stream when nothing matches.
func detectContentType(relPath string) string {
	if isTextLike(relPath) {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(relPath)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func isTextLike(relPath string) bool {
	return strings.HasSuffix(relPath, ".yaml") ||
		strings.HasSuffix(relPath, ".yml") ||
		strings.HasSuffix(relPath, ".toml") ||
		strings.HasSuffix(relPath, ".md")
}
