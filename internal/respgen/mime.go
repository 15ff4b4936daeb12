package respgen

import "strings"

// extToType and typeToExt back the `types` configuration block (spec
// §3, §6.1) and its fallback table. A configured `types` block may
// extend extToType at load time; these are the built-in defaults.
var extToType = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".xml":  "application/xml",
	".ico":  "image/x-icon",
}

const defaultMimeType = "application/octet-stream"

// ContentType maps a file extension (including the leading dot) to its
// MIME type, falling back to application/octet-stream (spec §4.5).
func ContentType(ext string) string {
	if t, ok := extToType[strings.ToLower(ext)]; ok {
		return t
	}
	return defaultMimeType
}

// ExtensionForType is the Upload generator's reverse lookup (spec §4.5:
// "if the filename lacks an extension, derive one from the configured
// MIME-to-extension table keyed by the part's Content-Type").
func ExtensionForType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for ext, t := range extToType {
		if t == ct {
			return ext
		}
	}
	return ""
}

// RegisterType extends the built-in extension/MIME table from a
// configuration `types` block (spec §6.1).
func RegisterType(ext, mimeType string) {
	extToType[strings.ToLower(ext)] = mimeType
}

func extensionOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	return name[idx:]
}
