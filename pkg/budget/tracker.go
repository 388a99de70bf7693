// Package budget tracks the outstanding fetch budget of the active project.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// Snapshot is a point-in-time copy of a tracker's counters
type Snapshot struct {
	ProjectID string
	Status    models.ProjectStatus
	Pending   int
	Seen      int
	Pages     int
	Success   int
	Failed    int
	Skipped   int
}

// Tracker is the crawl state of one project: pending count, seen URLs and resolved pages.
//
// Only Schedule and Resolve change the pending count. A URL is marked seen when it is
// scheduled, never when it resolves. Status only moves forward, and the status field alone
// guards the single transition into finalizing.
type Tracker struct {
	mu        sync.Mutex
	projectID string
	status    models.ProjectStatus
	pending   int
	seen      map[string]struct{}
	pages     []models.PageRecord
	success   int
	failed    int
	skipped   int
	log       *logrus.Entry
}

// NewTracker creates a queued tracker for projectID
func NewTracker(projectID string, log *logrus.Entry) *Tracker {
	return &Tracker{
		projectID: projectID,
		status:    models.ProjectStatusQueued,
		seen:      make(map[string]struct{}),
		log:       log.WithField("project_id", projectID),
	}
}

// Activate moves a queued tracker to active. Returns false from any other state.
func (t *Tracker) Activate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != models.ProjectStatusQueued {
		return false
	}
	t.status = models.ProjectStatusActive
	return true
}

// Schedule marks url seen and increments the pending count.
// Returns false with no side effect if url was already seen or the project is not active.
func (t *Tracker) Schedule(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != models.ProjectStatusActive {
		return false
	}
	if _, dup := t.seen[url]; dup {
		return false
	}
	t.seen[url] = struct{}{}
	t.pending++
	t.log.WithField("url", url).Debugf("Pending %d -> %d (scheduled)", t.pending-1, t.pending)
	return true
}

// Seen reports whether url has been scheduled for this project
func (t *Tracker) Seen(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[url]
	return ok
}

// Resolve records a finished fetch and returns the pending count after the decrement.
// Resolving with nothing pending is rejected and leaves the counter at zero.
func (t *Tracker) Resolve(rec models.PageRecord) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending <= 0 {
		err := fmt.Errorf("%w: project %s, url %s", utils.ErrBudgetUnderflow, t.projectID, rec.URL)
		t.log.WithError(err).Error("Budget underflow")
		return 0, err
	}

	t.pages = append(t.pages, rec)
	switch rec.CrawlStatus {
	case models.CrawlStatusSuccess:
		t.success++
	case models.CrawlStatusSkippedNonHTML:
		t.skipped++
	default:
		t.failed++
	}
	t.pending--
	t.log.WithFields(logrus.Fields{
		"url": rec.URL, "crawl_status": rec.CrawlStatus,
	}).Debugf("Pending %d -> %d (resolved)", t.pending+1, t.pending)
	return t.pending, nil
}

// Pending returns the number of scheduled but unresolved fetches
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// BeginFinalize moves an active tracker with nothing pending to finalizing.
// Every later call returns false, which makes finalization idempotent.
func (t *Tracker) BeginFinalize() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != models.ProjectStatusActive || t.pending != 0 {
		return false
	}
	t.status = models.ProjectStatusFinalizing
	return true
}

// Complete moves a finalizing tracker to completed
func (t *Tracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != models.ProjectStatusFinalizing {
		return false
	}
	t.status = models.ProjectStatusCompleted
	return true
}

// Interrupt marks a non-terminal tracker as interrupted
func (t *Tracker) Interrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	t.status = models.ProjectStatusInterrupted
	return true
}

// Status returns the current lifecycle state
func (t *Tracker) Status() models.ProjectStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot copies the counters for progress reporting
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ProjectID: t.projectID,
		Status:    t.status,
		Pending:   t.pending,
		Seen:      len(t.seen),
		Pages:     len(t.pages),
		Success:   t.success,
		Failed:    t.failed,
		Skipped:   t.skipped,
	}
}

// Result builds the output record. Pages are kept in resolution order.
func (t *Tracker) Result(p models.Project, crawlTime time.Time) *models.ProjectResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	pages := make([]models.PageRecord, len(t.pages))
	copy(pages, t.pages)

	denom := t.success + t.failed
	if denom < 1 {
		denom = 1
	}
	return &models.ProjectResult{
		ProjectID:       p.ID,
		DisplayName:     p.DisplayName,
		SourceTag:       p.SourceTag,
		RootURL:         p.RootURL,
		CrawlTime:       crawlTime,
		Pages:           pages,
		TotalPages:      len(pages),
		SuccessfulPages: t.success,
		FailedPages:     t.failed,
		SkippedPages:    t.skipped,
		SuccessRate:     float64(t.success) / float64(denom),
		Status:          t.status,
	}
}
