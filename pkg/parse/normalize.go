package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// rootPlaceholders are values the project sheets use for "no URL known"
var rootPlaceholders = map[string]bool{
	"暂无":   true,
	"n/a":  true,
	"none": true,
	"null": true,
	"-":    true,
}

// NormalizeURL standardizes a URL for deduplication
// It lowercases the scheme and host, removes default ports, removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/", and removes the fragment
// The query string is kept since program pages are often addressed by query parameters
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.ForceQuery = false

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}

// IsPlaceholder reports whether raw is empty or one of the known "no URL" markers
func IsPlaceholder(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || rootPlaceholders[strings.ToLower(s)]
}

// ParseRootURL validates a project's root URL.
// Placeholders, unparsable strings, non-http(s) schemes and empty hosts all yield ErrInvalidRootURL.
func ParseRootURL(raw string) (*url.URL, error) {
	if IsPlaceholder(raw) {
		return nil, fmt.Errorf("%w: placeholder value %q", utils.ErrInvalidRootURL, strings.TrimSpace(raw))
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrInvalidRootURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q in %q", utils.ErrInvalidRootURL, u.Scheme, raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", utils.ErrInvalidRootURL, raw)
	}
	return u, nil
}

// ResolveLink resolves href against base and strips the fragment.
// Returns false for unparsable hrefs, non-http(s) targets and targets without a host.
func ResolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return nil, false
	}
	u, err := base.Parse(href)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}
