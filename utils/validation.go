package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._\s-]`)

// SanitizeFilename cleans an uploaded filename before it is forwarded to the
// backend. It trims spaces and dots, removes parent directory references, and
// filters out non-alphanumeric characters except for safe punctuation.
func SanitizeFilename(filename string) string {
	sanitized := strings.Trim(filename, " .")
	sanitized = strings.ReplaceAll(sanitized, "..", "")
	sanitized = unsafeFilenameChars.ReplaceAllString(sanitized, "")
	if len(sanitized) > 255 {
		sanitized = sanitized[:255]
	}
	return sanitized
}

// IsCSVFilename reports whether a sanitized filename carries a .csv extension.
func IsCSVFilename(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}
