package utils

import (
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)
var nonIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

const maxFilenameLength = 100

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// SanitizeIdentifier lower-cases a dataset or column name into a SQL-safe identifier.
// Names starting with a digit get a leading underscore.
func SanitizeIdentifier(name string) string {
	id := nonIdentifierChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	id = consecutiveUnderscores.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return "col"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "_" + id
	}
	return id
}
