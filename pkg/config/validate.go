package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 32")
		c.MaxRequests = 32
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 8")
		c.MaxRequestsPerHost = 8
	}
	if c.MaxRequestsPerHost > c.MaxRequests {
		warnings = append(warnings, fmt.Sprintf(
			"max_requests_per_host (%d) > max_requests (%d), capping per-host limit",
			c.MaxRequestsPerHost, c.MaxRequests))
		c.MaxRequestsPerHost = c.MaxRequests
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './output'")
		c.OutputBaseDir = "./output"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.RetryStatusCodes == nil {
		c.RetryStatusCodes = append([]int(nil), DefaultRetryStatusCodes...)
	}
	if c.AllowedStatusCodes == nil {
		c.AllowedStatusCodes = append([]int(nil), DefaultAllowedStatusCodes...)
	}
	for _, code := range append(append([]int(nil), c.RetryStatusCodes...), c.AllowedStatusCodes...) {
		if code < 100 || code > 599 {
			return warnings, fmt.Errorf("%w: status code %d out of range", utils.ErrConfigValidation, code)
		}
	}

	// Politeness
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, setting to 0")
		c.DelayPerHost = 0
	}
	warnings = append(warnings, c.validateAutoThrottle()...)
	if c.GlobalRateLimit < 0 {
		warnings = append(warnings, "global_rate_limit cannot be negative, disabling")
		c.GlobalRateLimit = 0
	}
	if c.GlobalRateLimit > 0 && c.GlobalRateBurst <= 0 {
		c.GlobalRateBurst = 1
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// PerPageTimeout
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	// Crawl policy
	warnings = append(warnings, c.validateCrawlPolicy()...)
	if c.MaxLinksPerPage == 0 {
		return warnings, fmt.Errorf("%w: max_links_per_page is required (use a negative value for unlimited)", utils.ErrConfigValidation)
	}
	if _, err := utils.CompileRegexPatterns(c.BlockedURLPatterns); err != nil {
		return warnings, err
	}
	switch c.ContentFormat {
	case "":
		c.ContentFormat = ContentFormatText
	case ContentFormatText, ContentFormatMarkdown:
	default:
		return warnings, fmt.Errorf("%w: content_format must be %q or %q, got %q",
			utils.ErrConfigValidation, ContentFormatText, ContentFormatMarkdown, c.ContentFormat)
	}

	// Input
	if c.StartIndex < 0 {
		warnings = append(warnings, "start_index cannot be negative, setting to 0")
		c.StartIndex = 0
	}

	// Output files
	if c.EnableJSONL && c.JSONLFilename == "" {
		c.JSONLFilename = "projects.jsonl"
	}
	if c.EnableRunReport && c.RunReportFilename == "" {
		c.RunReportFilename = "run_report.yaml"
	}
	warnings = append(warnings, c.validateChunking()...)

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateCrawlPolicy applies defaults to discovery and link admission settings.
func (c *AppConfig) validateCrawlPolicy() (warnings []string) {
	depth := 1
	if c.MaxDepth != nil {
		depth = *c.MaxDepth
	}
	switch {
	case depth > 1:
		warnings = append(warnings, fmt.Sprintf("max_depth %d exceeds the supported discovery depth, clamping to 1", depth))
		depth = 1
	case depth < 0:
		warnings = append(warnings, "max_depth cannot be negative, setting to 0 (root page only)")
		depth = 0
	}
	c.MaxDepth = &depth

	if c.MaxChildFetches < 0 {
		warnings = append(warnings, "max_child_fetches cannot be negative, setting to 0 (unlimited)")
		c.MaxChildFetches = 0
	}

	if c.SameOriginOnly == nil {
		sameOrigin := true
		c.SameOriginOnly = &sameOrigin
	}

	if len(c.KeywordWhitelist) == 0 {
		c.KeywordWhitelist = append([]string(nil), DefaultKeywordWhitelist...)
	}
	c.KeywordWhitelist = normalizeTerms(c.KeywordWhitelist)
	c.BlockedAnchorTerms = normalizeTerms(c.BlockedAnchorTerms)

	if c.MaxPageSizeBytes < 0 {
		warnings = append(warnings, "max_page_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxPageSizeBytes = 0
	}
	return warnings
}

// validateAutoThrottle applies defaults to adaptive throttling settings.
func (c *AppConfig) validateAutoThrottle() (warnings []string) {
	a := &c.AutoThrottle
	if !a.Enabled {
		return nil
	}
	if a.StartDelay <= 0 {
		a.StartDelay = 1 * time.Second
	}
	if a.MaxDelay <= 0 {
		a.MaxDelay = 6 * time.Second
	}
	if a.TargetConcurrency <= 0 {
		a.TargetConcurrency = 2.0
	}
	if a.StartDelay > a.MaxDelay {
		warnings = append(warnings, fmt.Sprintf(
			"auto_throttle.start_delay (%v) > auto_throttle.max_delay (%v), using max_delay",
			a.StartDelay, a.MaxDelay))
		a.StartDelay = a.MaxDelay
	}
	return warnings
}

// validateChunking applies defaults to the chunk sink settings.
func (c *AppConfig) validateChunking() (warnings []string) {
	ch := &c.Chunking
	if !ch.Enabled {
		return nil
	}
	if ch.MaxChunkSize <= 0 {
		ch.MaxChunkSize = 512
	}
	if ch.ChunkOverlap < 0 {
		warnings = append(warnings, "chunking.chunk_overlap cannot be negative, setting to 0")
		ch.ChunkOverlap = 0
	}
	if ch.ChunkOverlap >= ch.MaxChunkSize {
		warnings = append(warnings, fmt.Sprintf(
			"chunking.chunk_overlap (%d) >= max_chunk_size (%d), defaulting overlap to 50",
			ch.ChunkOverlap, ch.MaxChunkSize))
		ch.ChunkOverlap = 50
		if ch.ChunkOverlap >= ch.MaxChunkSize {
			ch.ChunkOverlap = 0
		}
	}
	if ch.Filename == "" {
		ch.Filename = "chunks.jsonl"
	}
	if ch.TokenizerEncoding == "" {
		ch.TokenizerEncoding = "cl100k_base"
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// normalizeTerms lowercases, trims and drops empty or duplicate terms, keeping order.
func normalizeTerms(terms []string) []string {
	if len(terms) == 0 {
		return terms
	}
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
