package media

import (
	"mime"
	"path"
	"strings"
)

const DefaultContentType = "application/octet-stream"

var extensionTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".opus": "audio/opus",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".3gp":  "video/3gpp",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// contentTypeExtensions is checked in order; the first entry whose marker
// appears in the declared content type wins.
var contentTypeExtensions = []struct {
	marker string
	ext    string
}{
	// audio
	{"audio/mpeg", "mp3"},
	{"audio/mp3", "mp3"},
	{"audio/wav", "wav"},
	{"audio/x-wav", "wav"},
	{"audio/wave", "wav"},
	{"audio/ogg", "ogg"},
	{"audio/mp4", "m4a"},
	{"audio/x-m4a", "m4a"},
	{"audio/m4a", "m4a"},
	{"audio/flac", "flac"},
	{"audio/x-flac", "flac"},
	{"audio/aac", "aac"},
	// video
	{"video/mp4", "mp4"},
	{"video/quicktime", "mov"},
	{"video/x-msvideo", "avi"},
	{"video/avi", "avi"},
	{"video/webm", "webm"},
}

// Ext returns the lowercase extension of name without the dot.
func Ext(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// ExtensionForContentType maps a declared upload content type to a file
// extension. Unknown types fall back to mp4 for anything mentioning video
// and mp3 otherwise.
func ExtensionForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		ct = parsed
	}

	for _, entry := range contentTypeExtensions {
		if strings.Contains(ct, entry.marker) {
			return entry.ext
		}
	}

	if strings.Contains(ct, "video") {
		return "mp4"
	}
	return "mp3"
}

// ContentTypeForExt returns the MIME type for an extension with or without
// the leading dot, and false when the extension is not known.
func ContentTypeForExt(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ct, ok := extensionTypes[ext]
	return ct, ok
}

// GetContentType returns the MIME type for a file name or URI, falling back
// to application/octet-stream.
func GetContentType(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if ct, ok := ContentTypeForExt(path.Ext(name)); ok {
		return ct
	}
	return DefaultContentType
}

func IsVideo(contentType string) bool {
	return strings.HasPrefix(contentType, "video/")
}

func IsAudio(contentType string) bool {
	return strings.HasPrefix(contentType, "audio/")
}
