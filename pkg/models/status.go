package models

// CrawlStatus is the outcome of a single page fetch
type CrawlStatus string

const (
	CrawlStatusUnset          CrawlStatus = ""                 // Zero value = unset/unknown
	CrawlStatusSuccess        CrawlStatus = "success"          // Fetched and parsed (includes allowed non-2xx)
	CrawlStatusSkippedNonHTML CrawlStatus = "skipped_non_html" // Response was not text/html
	CrawlStatusFailed         CrawlStatus = "failed"           // Network error, disallowed status, or parse failure
)

// String implements fmt.Stringer for logging
func (s CrawlStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known resolution value
func (s CrawlStatus) IsValid() bool {
	switch s {
	case CrawlStatusSuccess, CrawlStatusSkippedNonHTML, CrawlStatusFailed:
		return true
	}
	return false
}

// ProjectStatus is the lifecycle state of a project's crawl
type ProjectStatus string

const (
	ProjectStatusUnset       ProjectStatus = ""            // Zero value = unset/unknown
	ProjectStatusQueued      ProjectStatus = "queued"      // Waiting in the project queue
	ProjectStatusActive      ProjectStatus = "active"      // Fetches outstanding
	ProjectStatusFinalizing  ProjectStatus = "finalizing"  // Budget drained, emitting result
	ProjectStatusCompleted   ProjectStatus = "completed"   // Emitted
	ProjectStatusInterrupted ProjectStatus = "interrupted" // Run cancelled while the project was active
)

// String implements fmt.Stringer for logging
func (s ProjectStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known lifecycle value
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusQueued, ProjectStatusActive, ProjectStatusFinalizing,
		ProjectStatusCompleted, ProjectStatusInterrupted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusInterrupted
}
