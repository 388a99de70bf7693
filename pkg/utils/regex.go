package utils

import (
	"regexp"
	"strings"
)

// CompileRegexPatterns compiles URL patterns case-insensitively.
// Blank entries are skipped; the first invalid pattern fails with ErrConfigValidation.
func CompileRegexPatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, WrapErrorf(ErrConfigValidation, "invalid URL pattern #%d (%q): %v", i+1, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
