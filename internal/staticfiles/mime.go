package staticfiles

import "strings"

// mimeTypes is the fixed extension table from original_source's
// Utils::getMimeType. We keep a small hand-written table rather than
// stdlib mime.TypeByExtension because the original always appends
// "; charset=utf-8" to text types and returns a bare type for binary
// ones — behavior stdlib's table doesn't reproduce exactly, and no
// third-party mime-sniffing library appears anywhere in the example
// pack to justify pulling one in for this one-line lookup.
var mimeTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".txt":  "text/plain; charset=utf-8",
	".pdf":  "application/pdf",
	".xml":  "application/xml; charset=utf-8",
}

// MimeType returns the content-type for filePath's extension, or
// "application/octet-stream" if unrecognized.
func MimeType(filePath string) string {
	dot := strings.LastIndexByte(filePath, '.')
	if dot < 0 {
		return "application/octet-stream"
	}
	ext := strings.ToLower(filePath[dot:])
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}
