package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/program-crawler/pkg/models"
)

// ProjectStore tracks which projects have been finalized, for resume
type ProjectStore interface {
	// IsProjectCompleted reports whether the project was finalized and emitted in an earlier run
	IsProjectCompleted(projectID string) (bool, error)

	// GetProject returns the stored entry, or nil if the project is unknown
	GetProject(projectID string) (*models.ProjectDBEntry, error)

	// MarkProjectCompleted records a finalized project's counters
	MarkProjectCompleted(result *models.ProjectResult) error
}

// FailureStore holds the failed-request log
type FailureStore interface {
	// RecordFailure stores f unless a failure for the same URL and source tag is already stored.
	// Returns true if f was added.
	RecordFailure(f models.FailedRequest) (bool, error)

	// ListFailures returns stored failures for sourceTag, or for all tags when sourceTag is empty
	ListFailures(ctx context.Context, sourceTag string) ([]models.FailedRequest, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// CompletedCount returns the number of completed projects on record
	CompletedCount() (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// StateStore combines all store interfaces for components that need full access
type StateStore interface {
	ProjectStore
	FailureStore
	StoreAdmin
}
