package models

import "time"

// Project is one crawl entity: a degree-program root page plus its immediate sub-pages.
// Immutable once loaded; identity is ID.
type Project struct {
	ID          string `json:"project_id"`
	DisplayName string `json:"display_name"`
	RootURL     string `json:"root_url"`
	SourceTag   string `json:"source_tag"`
}

// FetchTask is a scheduled page fetch handed to a worker
type FetchTask struct {
	ProjectID string
	URL       string
	Depth     int
}

// LinkCandidate is an outbound link found on a page, with the keyword that admitted it (if any)
type LinkCandidate struct {
	URL            string `json:"url"`
	AnchorText     string `json:"anchor_text"`
	MatchedKeyword string `json:"matched_keyword,omitempty"`
}

// PageRecord is the resolved outcome of one fetch, successful or not
type PageRecord struct {
	URL         string          `json:"url"`
	Depth       int             `json:"depth"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	CrawlStatus CrawlStatus     `json:"crawl_status"`
	Links       []LinkCandidate `json:"links,omitempty"`
	HTTPStatus  int             `json:"http_status,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
	TokenCount  int             `json:"token_count,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorType   string          `json:"error_type,omitempty"`
	FetchedAt   time.Time       `json:"-"`

	// Diagnostics for the failed-request log, not part of the emitted record.
	ResponseHeaders map[string]string `json:"-"`
	ResponsePreview string            `json:"-"`
}

// ProjectResult is the aggregated output record emitted for a finished project
type ProjectResult struct {
	ProjectID       string        `json:"project_id"`
	DisplayName     string        `json:"display_name"`
	SourceTag       string        `json:"source_tag"`
	RootURL         string        `json:"root_url"`
	CrawlTime       time.Time     `json:"crawl_time"`
	Pages           []PageRecord  `json:"pages"`
	TotalPages      int           `json:"total_pages"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	SkippedPages    int           `json:"skipped_pages"`
	SuccessRate     float64       `json:"success_rate"`
	Status          ProjectStatus `json:"status"`
}

// FailedRequest is one entry of the failed-request log, keyed by project and URL
type FailedRequest struct {
	ProjectID       string            `json:"project_id"`
	DisplayName     string            `json:"display_name"`
	SourceTag       string            `json:"source_tag"`
	URL             string            `json:"url"`
	Depth           int               `json:"depth"`
	Error           string            `json:"error"`
	ErrorType       string            `json:"error_type"`
	HTTPStatus      int               `json:"http_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponsePreview string            `json:"response_preview,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ProjectDBEntry stores the completion state of a project in the database
type ProjectDBEntry struct {
	Status          ProjectStatus `json:"status"`
	TotalPages      int           `json:"total_pages"`
	SuccessfulPages int           `json:"successful_pages"`
	FailedPages     int           `json:"failed_pages"`
	ErrorType       string        `json:"error_type,omitempty"`
	LastAttempt     time.Time     `json:"last_attempt"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
}

// ProjectSummary is the per-project line of a run report
type ProjectSummary struct {
	ProjectID       string        `yaml:"project_id"`
	DisplayName     string        `yaml:"display_name"`
	SourceTag       string        `yaml:"source_tag"`
	Status          ProjectStatus `yaml:"status"`
	TotalPages      int           `yaml:"total_pages"`
	SuccessfulPages int           `yaml:"successful_pages"`
	FailedPages     int           `yaml:"failed_pages"`
	SkippedPages    int           `yaml:"skipped_pages"`
	Duration        time.Duration `yaml:"duration"`
	OutputPath      string        `yaml:"output_path,omitempty"`
	Error           string        `yaml:"error,omitempty"`
}

// RunMetadata holds all metadata for one orchestrator run.
type RunMetadata struct {
	RunID             string           `yaml:"run_id"`
	InputFile         string           `yaml:"input_file,omitempty"`
	StartTime         time.Time        `yaml:"start_time"`
	EndTime           time.Time        `yaml:"end_time"`
	ProjectsTotal     int              `yaml:"projects_total"`
	ProjectsCompleted int              `yaml:"projects_completed"`
	ProjectsSkipped   int              `yaml:"projects_skipped"`
	PagesTotal        int              `yaml:"pages_total"`
	PagesSuccessful   int              `yaml:"pages_successful"`
	PagesFailed       int              `yaml:"pages_failed"`
	PagesSkipped      int              `yaml:"pages_skipped"`
	Interrupted       bool             `yaml:"interrupted,omitempty"`
	Projects          []ProjectSummary `yaml:"projects"`
}
