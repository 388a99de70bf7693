// Package orchestrate drives projects through the crawl one at a time: schedule the root,
// fan child fetches out to a worker pool, and finalize once nothing is outstanding.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/program-crawler/pkg/budget"
	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/crawler"
	"github.com/Sriram-PR/program-crawler/pkg/filter"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/parse"
	"github.com/Sriram-PR/program-crawler/pkg/queue"
	"github.com/Sriram-PR/program-crawler/pkg/sink"
	"github.com/Sriram-PR/program-crawler/pkg/storage"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

const defaultProgressInterval = 30 * time.Second

// State is the orchestrator's position in the project lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateDrained    State = "drained"
)

// PageProcessor runs the fetch pipeline for one task. It must always return a result.
type PageProcessor interface {
	Process(ctx context.Context, task models.FetchTask, workerLog *logrus.Entry) crawler.Result
}

// Options contains optional collaborators for New
type Options struct {
	Projects storage.ProjectStore // nil disables resume and completion records
	Failures storage.FailureStore // nil disables the failed-request log
	Report   *sink.RunReport      // nil disables the run report
	Resume   bool                 // Skip projects the store reports as completed

	InputFile        string
	ProgressInterval time.Duration // 0 = 30s, negative disables progress logging
}

// Progress is a point-in-time view of a run
type Progress struct {
	State             State
	ProjectID         string
	Pending           int
	Pages             int
	ProjectsDone      int
	ProjectsRemaining int
}

// Orchestrator runs every project in a queue to completion, strictly in order
type Orchestrator struct {
	cfg       *config.AppConfig
	queue     *queue.ProjectQueue
	processor PageProcessor
	filter    filter.LinkFilter
	sink      sink.CompletionSink
	opts      Options
	log       *logrus.Entry

	mu           sync.Mutex
	state        State
	active       *budget.Tracker
	projectsDone int
}

// New creates an orchestrator. cfg must already be validated.
func New(cfg *config.AppConfig, q *queue.ProjectQueue, processor PageProcessor, linkFilter filter.LinkFilter,
	completionSink sink.CompletionSink, log *logrus.Entry, opts *Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		queue:     q,
		processor: processor,
		filter:    linkFilter,
		sink:      completionSink,
		log:       log.WithField("component", "orchestrator"),
		state:     StateIdle,
	}
	if opts != nil {
		o.opts = *opts
	}
	if o.opts.ProgressInterval == 0 {
		o.opts.ProgressInterval = defaultProgressInterval
	}
	return o
}

// Progress returns a snapshot safe to call from any goroutine
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	p := Progress{State: o.state, ProjectsDone: o.projectsDone, ProjectsRemaining: o.queue.Len()}
	active := o.active
	o.mu.Unlock()

	if active != nil {
		snap := active.Snapshot()
		p.ProjectID = snap.ProjectID
		p.Pending = snap.Pending
		p.Pages = snap.Pages
	}
	return p
}

func (o *Orchestrator) setState(s State, active *budget.Tracker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	o.active = active
}

// Run drains the queue. Each project is fully resolved and finalized before the next is popped.
// Cancelling ctx interrupts the active project and stops advancement; Run then returns ctx.Err().
// The run metadata is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunMetadata, error) {
	meta := &models.RunMetadata{
		RunID:         uuid.NewString(),
		InputFile:     o.opts.InputFile,
		StartTime:     time.Now(),
		ProjectsTotal: o.queue.Len(),
	}
	runLog := o.log.WithField("run_id", meta.RunID)
	runLog.Info("============================================")
	runLog.Infof("Starting run: %d projects queued, %d workers, resume=%v", meta.ProjectsTotal, o.cfg.NumWorkers, o.opts.Resume)
	runLog.Info("============================================")

	stopProgress := o.startProgressReporter(runLog)
	defer stopProgress()

	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		p, ok := o.queue.PopFront()
		if !ok {
			o.queue.Close()
			o.setState(StateDrained, nil)
			break
		}

		if o.opts.Resume && o.opts.Projects != nil {
			done, err := o.opts.Projects.IsProjectCompleted(p.ID)
			if err != nil {
				runLog.WithField("project_id", p.ID).Warnf("Could not read completion state, crawling again: %v", err)
			} else if done {
				runLog.WithField("project_id", p.ID).Info("Project already completed in an earlier run, skipping")
				meta.ProjectsSkipped++
				continue
			}
		}

		summary, err := o.crawlProject(ctx, p)
		meta.Projects = append(meta.Projects, summary)
		meta.PagesTotal += summary.TotalPages
		meta.PagesSuccessful += summary.SuccessfulPages
		meta.PagesFailed += summary.FailedPages
		meta.PagesSkipped += summary.SkippedPages
		if summary.Status == models.ProjectStatusCompleted && summary.Error == "" {
			meta.ProjectsCompleted++
		}
		if err != nil {
			runErr = err
			break
		}
	}

	meta.EndTime = time.Now()
	meta.Interrupted = runErr != nil
	o.logRunSummary(runLog, meta)

	if err := o.opts.Report.Write(meta); err != nil {
		runLog.WithField("category", utils.CategorizeError(err)).Errorf("Failed to write run report: %v", err)
	}
	return meta, runErr
}

// crawlProject runs one project from Active to Idle. The returned error is non-nil only
// when ctx was cancelled, in which case the project is interrupted and not emitted.
func (o *Orchestrator) crawlProject(ctx context.Context, p models.Project) (models.ProjectSummary, error) {
	start := time.Now()
	plog := o.log.WithFields(logrus.Fields{"project_id": p.ID, "source_tag": p.SourceTag})
	summary := models.ProjectSummary{ProjectID: p.ID, DisplayName: p.DisplayName, SourceTag: p.SourceTag}

	tracker := budget.NewTracker(p.ID, o.log)
	tracker.Activate()
	o.setState(StateActive, tracker)
	defer o.setState(StateIdle, nil)

	plog.Info("============================================")
	plog.Infof("Project %s: %s", p.ID, p.DisplayName)
	plog.Info("============================================")

	crawlTime := time.Now()
	root, err := parse.ParseRootURL(p.RootURL)
	if err != nil {
		plog.WithField("root_url", p.RootURL).Warnf("Invalid root URL, finalizing with zero pages: %v", err)
	} else {
		o.drive(ctx, p, root, tracker, plog)
	}

	if err := ctx.Err(); err != nil {
		tracker.Interrupt()
		snap := tracker.Snapshot()
		summary.Status = models.ProjectStatusInterrupted
		summary.TotalPages, summary.SuccessfulPages = snap.Pages, snap.Success
		summary.FailedPages, summary.SkippedPages = snap.Failed, snap.Skipped
		summary.Duration = time.Since(start)
		summary.Error = err.Error()
		plog.Warnf("Project interrupted after %d pages; not emitted", snap.Pages)
		return summary, err
	}

	result, emitErr := o.finalize(ctx, p, tracker, crawlTime, plog)
	if result != nil {
		summary.TotalPages, summary.SuccessfulPages = result.TotalPages, result.SuccessfulPages
		summary.FailedPages, summary.SkippedPages = result.FailedPages, result.SkippedPages
		if pr, ok := o.sink.(sink.PathReporter); ok && emitErr == nil {
			summary.OutputPath = pr.PathFor(result)
		}
	}
	summary.Status = tracker.Status()
	if emitErr != nil {
		summary.Error = emitErr.Error()
	}
	summary.Duration = time.Since(start)

	o.mu.Lock()
	o.projectsDone++
	o.mu.Unlock()

	plog.Infof("Project finished in %v: %d pages (%d ok, %d failed, %d skipped)",
		summary.Duration.Round(time.Millisecond), summary.TotalPages, summary.SuccessfulPages, summary.FailedPages, summary.SkippedPages)
	return summary, nil
}

// drive schedules the root and coordinates workers until no fetch is outstanding.
// It is the only goroutine that mutates tracker. Every scheduled task is resolved
// before drive returns, including after ctx is cancelled.
func (o *Orchestrator) drive(ctx context.Context, p models.Project, root *url.URL, tracker *budget.Tracker, plog *logrus.Entry) {
	if !tracker.Schedule(parse.NormalizeURL(root)) {
		return
	}

	tasks := make(chan models.FetchTask)
	results := make(chan crawler.Result)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.NumWorkers; i++ {
		workerLog := plog.WithField("worker_id", i)
		g.Go(func() error {
			// Workers keep draining tasks after cancellation so every dispatched task resolves
			for task := range tasks {
				results <- o.processor.Process(gctx, task, workerLog)
			}
			return gctx.Err()
		})
	}

	d := &discovery{o: o, project: p, root: root, tracker: tracker, log: plog}
	backlog := []models.FetchTask{{ProjectID: p.ID, URL: root.String(), Depth: 0}}
	done := ctx.Done()

	for tracker.Pending() > 0 {
		var send chan models.FetchTask
		var next models.FetchTask
		if len(backlog) > 0 {
			send = tasks
			next = backlog[0]
		}

		select {
		case send <- next:
			backlog = backlog[1:]
		case res := <-results:
			backlog = append(backlog, d.resolve(ctx, res)...)
		case <-done:
			// Undispatched tasks are resolved as failed without fetching
			for _, task := range backlog {
				rec := models.PageRecord{
					URL: task.URL, Depth: task.Depth, CrawlStatus: models.CrawlStatusFailed,
					Error: ctx.Err().Error(), ErrorType: utils.CategorizeError(ctx.Err()), FetchedAt: time.Now(),
				}
				d.resolve(ctx, crawler.Result{Record: rec})
			}
			backlog = nil
			done = nil
		}
	}

	close(tasks)
	if err := g.Wait(); err != nil {
		plog.WithField("pending", tracker.Pending()).Warnf("Workers stopped early: %v", err)
	}
}

// discovery holds the per-project state of the coordinator
type discovery struct {
	o        *Orchestrator
	project  models.Project
	root     *url.URL
	landed   *url.URL // root after redirects, nil until the root page resolves
	tracker  *budget.Tracker
	children int
	log      *logrus.Entry
}

// resolve schedules the admitted children of a resolved page and then resolves the page.
// Children are scheduled first so the pending count cannot touch zero while work remains.
func (d *discovery) resolve(ctx context.Context, res crawler.Result) []models.FetchTask {
	rec := res.Record
	var next []models.FetchTask

	if rec.Depth == 0 && res.FinalURL != "" {
		if u, err := url.Parse(res.FinalURL); err == nil {
			d.landed = u
		}
	}
	if rec.CrawlStatus == models.CrawlStatusSuccess && ctx.Err() == nil && rec.Depth < d.o.cfg.DiscoveryDepth() {
		rec.Links, next = d.admit(rec, res.Links)
	}

	pending, err := d.tracker.Resolve(rec)
	if err != nil {
		return nil
	}

	if rec.CrawlStatus == models.CrawlStatusFailed && ctx.Err() == nil {
		d.recordFailure(rec)
	}
	d.log.WithFields(logrus.Fields{
		"url": rec.URL, "crawl_status": rec.CrawlStatus, "scheduled": len(next),
	}).Debugf("Resolved page, %d pending", pending)
	return next
}

// admit runs candidates through origin, dedup, keyword and cap checks, in that order,
// and schedules the survivors
func (d *discovery) admit(rec models.PageRecord, candidates []models.LinkCandidate) ([]models.LinkCandidate, []models.FetchTask) {
	cfg := d.o.cfg
	var admitted []models.LinkCandidate
	var tasks []models.FetchTask
	var offOrigin, seen, rejected, capped int

	for _, c := range candidates {
		u, err := url.Parse(c.URL)
		if err != nil {
			continue
		}
		if cfg.IsSameOriginOnly() && !d.sameOrigin(u) {
			offOrigin++
			continue
		}
		key := parse.NormalizeURL(u)
		if d.tracker.Seen(key) {
			seen++
			continue
		}
		kw, ok := d.o.filter.Admit(c.URL, c.AnchorText)
		if !ok {
			rejected++
			continue
		}
		if cfg.MaxLinksPerPage >= 0 && len(admitted) >= cfg.MaxLinksPerPage {
			capped++
			continue
		}
		if cfg.MaxChildFetches > 0 && d.children >= cfg.MaxChildFetches {
			capped++
			continue
		}
		if !d.tracker.Schedule(key) {
			continue
		}
		d.children++
		c.MatchedKeyword = kw
		admitted = append(admitted, c)
		tasks = append(tasks, models.FetchTask{ProjectID: d.project.ID, URL: c.URL, Depth: rec.Depth + 1})
	}

	d.log.WithFields(logrus.Fields{
		"url": rec.URL, "candidates": len(candidates), "off_origin": offOrigin,
		"already_seen": seen, "rejected": rejected, "capped": capped,
	}).Infof("Scheduled %d child pages", len(tasks))
	return admitted, tasks
}

// sameOrigin accepts links on the root's host or on the host the root redirected to
func (d *discovery) sameOrigin(u *url.URL) bool {
	if filter.SameOrigin(d.root, u) {
		return true
	}
	return d.landed != nil && filter.SameOrigin(d.landed, u)
}

func (d *discovery) recordFailure(rec models.PageRecord) {
	store := d.o.opts.Failures
	if store == nil {
		return
	}
	added, err := store.RecordFailure(models.FailedRequest{
		ProjectID:       d.project.ID,
		DisplayName:     d.project.DisplayName,
		SourceTag:       d.project.SourceTag,
		URL:             rec.URL,
		Depth:           rec.Depth,
		Error:           rec.Error,
		ErrorType:       rec.ErrorType,
		HTTPStatus:      rec.HTTPStatus,
		ResponseHeaders: rec.ResponseHeaders,
		ResponsePreview: rec.ResponsePreview,
		Timestamp:       rec.FetchedAt,
	})
	if err != nil {
		d.log.WithField("url", rec.URL).Warnf("Failed to record failed request: %v", err)
		return
	}
	if !added {
		d.log.WithField("url", rec.URL).Debug("Failure already on record")
	}
}

// finalize emits the project once. A second call for the same tracker does nothing and
// returns a nil result. The project is marked completed in the store only if every sink succeeded.
func (o *Orchestrator) finalize(ctx context.Context, p models.Project, tracker *budget.Tracker, crawlTime time.Time, plog *logrus.Entry) (*models.ProjectResult, error) {
	if !tracker.BeginFinalize() {
		plog.Debug("Finalize skipped: project not active or already finalized")
		return nil, nil
	}
	o.setState(StateFinalizing, tracker)

	result := tracker.Result(p, crawlTime)
	result.Status = models.ProjectStatusCompleted

	emitErr := o.sink.Emit(ctx, result)
	if emitErr != nil {
		if !errors.Is(emitErr, utils.ErrSink) {
			emitErr = fmt.Errorf("%w: project %s: %w", utils.ErrSink, p.ID, emitErr)
		}
		plog.WithField("category", utils.CategorizeError(emitErr)).
			Errorf("Failed to emit project; it will be retried on resume: %v", emitErr)
	} else if o.opts.Projects != nil {
		if err := o.opts.Projects.MarkProjectCompleted(result); err != nil {
			plog.WithField("category", utils.CategorizeError(err)).Errorf("Failed to mark project completed: %v", err)
		}
	}

	tracker.Complete()
	return result, emitErr
}

// startProgressReporter logs Progress periodically until the returned func is called
func (o *Orchestrator) startProgressReporter(log *logrus.Entry) (stop func()) {
	if o.opts.ProgressInterval < 0 {
		return func() {}
	}
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(o.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				p := o.Progress()
				log.WithFields(logrus.Fields{
					"state": p.State, "project_id": p.ProjectID,
				}).Infof("Progress: %d pending, %d pages in project, %d projects done, %d queued",
					p.Pending, p.Pages, p.ProjectsDone, p.ProjectsRemaining)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			wg.Wait()
		})
	}
}

// logRunSummary logs the final statistics of a run
func (o *Orchestrator) logRunSummary(log *logrus.Entry, meta *models.RunMetadata) {
	log.Info("============================================")
	if meta.Interrupted {
		log.Warnf("Run interrupted after %v", meta.EndTime.Sub(meta.StartTime).Round(time.Millisecond))
	} else {
		log.Infof("Run completed in %v", meta.EndTime.Sub(meta.StartTime).Round(time.Millisecond))
	}
	log.Infof("Projects: %d queued, %d completed, %d skipped (already done)",
		meta.ProjectsTotal, meta.ProjectsCompleted, meta.ProjectsSkipped)
	log.Infof("Pages: %d total, %d successful, %d failed, %d non-HTML",
		meta.PagesTotal, meta.PagesSuccessful, meta.PagesFailed, meta.PagesSkipped)

	var failed []string
	for _, s := range meta.Projects {
		if s.Error != "" {
			failed = append(failed, s.ProjectID)
		}
	}
	if len(failed) > 0 {
		log.Warnf("Projects with errors: %v", failed)
	}
	log.Info("============================================")
}
