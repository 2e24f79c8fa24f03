package audio

import (
	"mime"
	"strings"
)

// FormatTable answers container support queries from a configured list of
// MIME types. Parameters are ignored when matching.
type FormatTable []string

func (t FormatTable) IsTypeSupported(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	for _, supported := range t {
		if strings.EqualFold(mediaType, supported) {
			return true
		}
	}
	return false
}
