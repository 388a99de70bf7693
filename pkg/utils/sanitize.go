package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)
var consecutiveSpaces = regexp.MustCompile(`\s+`)

const maxFilenameLength = 100

// MaxProjectNameLength bounds the display-name part of a project's output filename (in runes).
const MaxProjectNameLength = 50

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ ")

	if len(sanitized) > maxFilenameLength {
		sanitized = truncateRunes(sanitized, maxFilenameLength)
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// SanitizeProjectName keeps letters (any script), digits, spaces, hyphens and underscores,
// collapses whitespace and truncates to MaxProjectNameLength runes.
func SanitizeProjectName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	cleaned := strings.TrimSpace(consecutiveSpaces.ReplaceAllString(b.String(), " "))
	cleaned = strings.TrimSpace(truncateRunes(cleaned, MaxProjectNameLength))
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
