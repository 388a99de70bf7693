// Package filter decides which discovered links are worth fetching for a project.
package filter

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// LinkFilter is a pure admission predicate over a candidate link.
// It returns the keyword that admitted the link, or ok=false.
type LinkFilter interface {
	Admit(rawURL, anchorText string) (keyword string, ok bool)
}

// KeywordFilter admits links whose anchor text contains a whitelisted keyword.
// Blocked anchor terms and blocked URL patterns take precedence over the whitelist.
type KeywordFilter struct {
	keywords      []string
	blockedTerms  []string
	blockedURLRes []*regexp.Regexp
}

// NewKeywordFilter builds a filter. Keywords and terms are matched case-insensitively.
func NewKeywordFilter(keywords, blockedTerms, blockedURLPatterns []string) (*KeywordFilter, error) {
	res, err := utils.CompileRegexPatterns(blockedURLPatterns)
	if err != nil {
		return nil, err
	}
	return &KeywordFilter{
		keywords:      lowerAll(keywords),
		blockedTerms:  lowerAll(blockedTerms),
		blockedURLRes: res,
	}, nil
}

// NewFromConfig builds the filter described by a validated AppConfig.
func NewFromConfig(cfg *config.AppConfig) (*KeywordFilter, error) {
	return NewKeywordFilter(cfg.KeywordWhitelist, cfg.BlockedAnchorTerms, cfg.BlockedURLPatterns)
}

// Admit implements LinkFilter.
func (f *KeywordFilter) Admit(rawURL, anchorText string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(anchorText))
	if text == "" {
		return "", false
	}
	for _, term := range f.blockedTerms {
		if strings.Contains(text, term) {
			return "", false
		}
	}
	lowerURL := strings.ToLower(rawURL)
	for _, re := range f.blockedURLRes {
		if re.MatchString(lowerURL) {
			return "", false
		}
	}
	for _, kw := range f.keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// SameOrigin reports whether candidate is served by the same host as root.
// Scheme and a leading "www." are ignored so http/https and www variants of one site match.
func SameOrigin(root, candidate *url.URL) bool {
	if root == nil || candidate == nil {
		return false
	}
	return canonicalHost(root) == canonicalHost(candidate)
}

func canonicalHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
