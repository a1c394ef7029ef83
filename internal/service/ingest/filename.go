package ingest

import (
	"path"
	"strings"
	"unicode"
)

// sanitizeFilename keeps the base name and maps anything outside
// [A-Za-z0-9._-] to an underscore.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "page"
	}
	return out
}

// extensionOf returns the lower-cased extension without the dot.
func extensionOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

var mimeByExtension = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"heic": "image/heic",
	"pdf":  "application/pdf",
	"webp": "image/webp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

func mimeTypeOf(ext string) string {
	if m, ok := mimeByExtension[ext]; ok {
		return m
	}
	return "application/octet-stream"
}
