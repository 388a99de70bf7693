package config

import "time"

// Content formats supported by the page extractor
const (
	ContentFormatText     = "text"
	ContentFormatMarkdown = "markdown"
)

// DefaultKeywordWhitelist is the anchor-text vocabulary that marks a link as program-relevant
var DefaultKeywordWhitelist = []string{
	"master", "graduate", "program", "course", "curriculum", "structure", "module",
	"apply", "admission", "requirements", "deadline", "application", "entry requirements",
	"tuition", "funding", "scholarship", "duration", "thesis", "dissertation",
	"toefl", "ielts", "transcript", "recommendation", "cv", "personal-statement",
}

// DefaultRetryStatusCodes are retried with backoff before the fetch is resolved
var DefaultRetryStatusCodes = []int{408, 429, 500, 502, 503, 504, 522, 524}

// DefaultAllowedStatusCodes are non-2xx statuses whose body is still parsed as page content
var DefaultAllowedStatusCodes = []int{403, 429, 503}

// AppConfig holds the global application configuration
type AppConfig struct {
	// Concurrency
	NumWorkers              int           `yaml:"num_workers"`
	MaxRequests             int           `yaml:"max_requests"`
	MaxRequestsPerHost      int           `yaml:"max_requests_per_host"`
	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`

	// Politeness
	DelayPerHost    time.Duration      `yaml:"delay_per_host,omitempty"`
	AutoThrottle    AutoThrottleConfig `yaml:"auto_throttle,omitempty"`
	GlobalRateLimit float64            `yaml:"global_rate_limit,omitempty"` // Requests per second across all hosts (0 = unlimited)
	GlobalRateBurst int                `yaml:"global_rate_burst,omitempty"`
	UserAgents      []string           `yaml:"user_agents,omitempty"`

	// Retry
	MaxRetries         int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay,omitempty"`
	RetryStatusCodes   []int         `yaml:"retry_status_codes,omitempty"`
	AllowedStatusCodes []int         `yaml:"allowed_status_codes,omitempty"`

	// Crawl policy
	MaxDepth           *int     `yaml:"max_depth,omitempty"`         // Discovery depth; nil = 1, clamped to 1
	MaxChildFetches    int      `yaml:"max_child_fetches,omitempty"` // Per-project cap on scheduled children (0 = unlimited)
	MaxLinksPerPage    int      `yaml:"max_links_per_page"`          // Required; negative = unlimited
	SameOriginOnly     *bool    `yaml:"same_origin_only,omitempty"`  // nil = true
	KeywordWhitelist   []string `yaml:"keyword_whitelist,omitempty"` // Matched against anchor text
	BlockedAnchorTerms []string `yaml:"blocked_anchor_terms,omitempty"`
	BlockedURLPatterns []string `yaml:"blocked_url_patterns,omitempty"` // Regex, matched against the absolute URL
	MaxPageSizeBytes   int64    `yaml:"max_page_size_bytes,omitempty"`
	ContentFormat      string   `yaml:"content_format,omitempty"` // "text" or "markdown"

	// Timeouts
	GlobalCrawlTimeout time.Duration `yaml:"global_crawl_timeout,omitempty"`
	PerPageTimeout     time.Duration `yaml:"per_page_timeout,omitempty"` // Timeout for processing a single page (0 = no timeout)

	// Input / output
	ProjectsFile      string         `yaml:"projects_file,omitempty"`
	StartIndex        int            `yaml:"start_index,omitempty"`
	OutputBaseDir     string         `yaml:"output_base_dir"`
	StateDir          string         `yaml:"state_dir"`
	EnableJSONL       bool           `yaml:"enable_jsonl,omitempty"`
	JSONLFilename     string         `yaml:"jsonl_filename,omitempty"`
	EnableRunReport   bool           `yaml:"enable_run_report,omitempty"`
	RunReportFilename string         `yaml:"run_report_filename,omitempty"`
	Chunking          ChunkingConfig `yaml:"chunking,omitempty"`

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// AutoThrottleConfig controls latency-driven per-host delay adjustment
type AutoThrottleConfig struct {
	Enabled           bool          `yaml:"enabled"`
	StartDelay        time.Duration `yaml:"start_delay,omitempty"`
	MaxDelay          time.Duration `yaml:"max_delay,omitempty"`
	TargetConcurrency float64       `yaml:"target_concurrency,omitempty"` // Average parallel requests per host to aim for
}

// ChunkingConfig controls the optional chunk sink
type ChunkingConfig struct {
	Enabled           bool   `yaml:"enabled"`
	MaxChunkSize      int    `yaml:"max_chunk_size,omitempty"` // In tokens
	ChunkOverlap      int    `yaml:"chunk_overlap,omitempty"`
	Filename          string `yaml:"filename,omitempty"`
	TokenizerEncoding string `yaml:"tokenizer_encoding,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// DiscoveryDepth returns the depth below which resolved pages spawn child fetches
func (c *AppConfig) DiscoveryDepth() int {
	if c.MaxDepth == nil {
		return 1
	}
	return *c.MaxDepth
}

// IsSameOriginOnly reports whether child links must share the root's host
func (c *AppConfig) IsSameOriginOnly() bool {
	if c.SameOriginOnly == nil {
		return true
	}
	return *c.SameOriginOnly
}

// StatusSet turns a list of status codes into a lookup set
func StatusSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
