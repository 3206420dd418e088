package domain

import (
	"mime"
	"strings"
)

// EPUBMediaType is the registered media type of an EPUB container.
const EPUBMediaType = "application/epub+zip"

// IsEPUBMediaType reports whether a declared Content-Type names an EPUB
// container. Parameters such as charset are ignored.
func IsEPUBMediaType(declared string) bool {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	return mt == EPUBMediaType
}

// HasZipSignature reports whether content starts with the ZIP local file
// header magic "PK". This is the real format gate; the declared media type
// is advisory.
func HasZipSignature(content []byte) bool {
	return len(content) >= 2 && content[0] == 0x50 && content[1] == 0x4B
}
