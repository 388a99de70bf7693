// Package crawler fetches and extracts single pages for the orchestrator.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/fetch"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/process"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// previewBytes caps the body snippet kept for the failed-request log
const previewBytes = 500

// diagnosticHeaders are copied from failed responses into the failed-request log
var diagnosticHeaders = []string{"Content-Type", "Server", "Retry-After", "Cf-Ray", "X-Cache", "Location"}

// Result is the outcome of processing one FetchTask
type Result struct {
	Record models.PageRecord
	// FinalURL is the URL after redirects. Set only for parsed HTML pages.
	FinalURL string
	// Links are every outbound link found on the page, before any filtering.
	// Empty for pages at or beyond the discovery depth and for failed pages.
	Links []models.LinkCandidate
}

// PageCrawler runs the fetch pipeline for one page at a time: acquire slots, fetch
// with retries, check the content type, then parse, extract content and collect links
type PageCrawler struct {
	cfg       *config.AppConfig
	fetcher   fetch.HTTPFetcher
	throttle  *fetch.HostThrottle
	globalSem *semaphore.Weighted
	limiter   *rate.Limiter
	agents    *fetch.UserAgentPool
	extractor *process.HTMLExtractor
	log       *logrus.Entry
}

// Options contains optional parameters for NewPageCrawler
type Options struct {
	// SharedSemaphore lets several crawlers share one global request limit.
	// If nil, a semaphore sized by MaxRequests is created.
	SharedSemaphore *semaphore.Weighted
}

// NewPageCrawler wires a crawler from a validated config
func NewPageCrawler(cfg *config.AppConfig, fetcher fetch.HTTPFetcher, throttle *fetch.HostThrottle, log *logrus.Entry, opts *Options) *PageCrawler {
	globalSem := semaphore.NewWeighted(int64(cfg.MaxRequests))
	if opts != nil && opts.SharedSemaphore != nil {
		globalSem = opts.SharedSemaphore
		log.Debug("Using shared global semaphore")
	}

	var limiter *rate.Limiter
	if cfg.GlobalRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRateLimit), cfg.GlobalRateBurst)
		log.Infof("Global rate limit: %.2f req/s (burst %d)", cfg.GlobalRateLimit, cfg.GlobalRateBurst)
	}

	return &PageCrawler{
		cfg:       cfg,
		fetcher:   fetcher,
		throttle:  throttle,
		globalSem: globalSem,
		limiter:   limiter,
		agents:    fetch.NewUserAgentPool(cfg.UserAgents),
		extractor: process.NewHTMLExtractor(cfg.ContentFormat, log),
		log:       log,
	}
}

// Process fetches and extracts task. It never returns an error: every failure,
// including a recovered panic, is reported as a failed PageRecord so the caller
// can always resolve the task.
func (pc *PageCrawler) Process(ctx context.Context, task models.FetchTask, workerLog *logrus.Entry) (res Result) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})
	startTime := time.Now()
	res.Record = models.PageRecord{URL: task.URL, Depth: task.Depth}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stage":       "PanicRecovery",
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing page")
			res.Links = nil
			res.Record = failedRecord(task, err, nil)
		}
		res.Record.FetchedAt = time.Now()

		fields := logrus.Fields{"duration": time.Since(startTime).String(), "crawl_status": res.Record.CrawlStatus}
		if res.Record.CrawlStatus == models.CrawlStatusFailed {
			fields["category"] = res.Record.ErrorType
			taskLog.WithFields(fields).Warnf("Page failed: %s", res.Record.Error)
		} else {
			fields["links_found"] = len(res.Links)
			taskLog.WithFields(fields).Info("Page processed")
		}
	}()

	if pc.cfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pc.cfg.PerPageTimeout)
		defer cancel()
	}

	parsedURL, err := url.Parse(task.URL)
	if err != nil || parsedURL.Hostname() == "" {
		if err == nil {
			err = fmt.Errorf("missing host")
		}
		res.Record = failedRecord(task, fmt.Errorf("%w: parsing URL '%s': %w", utils.ErrParsing, task.URL, err), nil)
		return res
	}
	host := parsedURL.Hostname()

	release, err := pc.acquireResources(ctx, host, taskLog)
	defer release()
	if err != nil {
		res.Record = failedRecord(task, err, nil)
		return res
	}

	resp, err := pc.fetchPage(ctx, task.URL, taskLog)
	if err != nil {
		res.Record = failedRecord(task, err, resp)
		drainAndClose(resp)
		return res
	}
	defer resp.Body.Close()
	res.Record.HTTPStatus = resp.StatusCode

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		taskLog.Infof("Skipping non-HTML content (Content-Type: %q)", contentType)
		io.Copy(io.Discard, resp.Body)
		res.Record.CrawlStatus = models.CrawlStatusSkippedNonHTML
		res.Record.Content = "non-HTML content - Content-Type: " + contentType
		res.Record.ErrorType = utils.CategorizeError(utils.ErrNonHTML)
		return res
	}

	finalURL := resp.Request.URL
	if finalURL.String() != task.URL {
		taskLog.WithField("final_url", finalURL.String()).Info("URL redirected.")
	}
	res.FinalURL = finalURL.String()

	doc, hash, err := pc.readAndParseBody(resp, finalURL, taskLog)
	if err != nil {
		res.Record = failedRecord(task, err, nil)
		return res
	}

	content, err := pc.extractor.Content(doc)
	if err != nil {
		res.Record = failedRecord(task, err, nil)
		return res
	}

	res.Record.Title = pc.extractor.Title(doc)
	res.Record.Content = content
	res.Record.ContentHash = hash
	if n := process.CountTokens(content); n > 0 {
		res.Record.TokenCount = n
	}
	res.Record.CrawlStatus = models.CrawlStatusSuccess

	if task.Depth < pc.cfg.DiscoveryDepth() {
		res.Links = process.ExtractLinks(doc, finalURL, taskLog)
	}
	return res
}

// acquireResources takes a per-host slot, a global slot and a global rate token, then waits
// out the per-host politeness delay. The returned func releases whatever was acquired.
func (pc *PageCrawler) acquireResources(ctx context.Context, host string, taskLog *logrus.Entry) (release func(), err error) {
	acquiredHost, acquiredGlobal := false, false
	release = func() {
		if acquiredGlobal {
			pc.globalSem.Release(1)
		}
		if acquiredHost {
			pc.throttle.Release(host)
		}
	}

	semTimeout := pc.cfg.SemaphoreAcquireTimeout

	ctxHost, cancelHost := context.WithTimeout(ctx, semTimeout)
	defer cancelHost()
	if err := pc.throttle.Acquire(ctxHost, host); err != nil {
		return release, fmt.Errorf("%w: acquire host slot for '%s': %w", utils.ErrSemaphoreTimeout, host, err)
	}
	acquiredHost = true

	ctxGlobal, cancelGlobal := context.WithTimeout(ctx, semTimeout)
	defer cancelGlobal()
	if err := pc.globalSem.Acquire(ctxGlobal, 1); err != nil {
		return release, fmt.Errorf("%w: acquire global semaphore: %w", utils.ErrSemaphoreTimeout, err)
	}
	acquiredGlobal = true

	if pc.limiter != nil {
		if err := pc.limiter.Wait(ctx); err != nil {
			return release, fmt.Errorf("global rate limit wait: %w", err)
		}
	}

	if err := pc.throttle.Wait(ctx, host); err != nil {
		return release, fmt.Errorf("politeness delay for '%s': %w", host, err)
	}

	taskLog.Debug("Resource acquisition successful.")
	return release, nil
}

// fetchPage issues the GET with browser-like headers. On error resp may still be
// non-nil for non-retryable HTTP statuses; the caller must close it.
func (pc *PageCrawler) fetchPage(ctx context.Context, rawURL string, taskLog *logrus.Entry) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for '%s': %w", utils.ErrRequestCreation, rawURL, err)
	}
	fetch.ApplyBrowserHeaders(req, pc.agents.Pick())

	taskLog.Debugf("Fetching page: %s", rawURL)
	return pc.fetcher.FetchWithRetry(ctx, req)
}

// readAndParseBody reads at most MaxPageSizeBytes and parses the body with goquery.
// Returns the document and the SHA-256 of the raw body.
func (pc *PageCrawler) readAndParseBody(resp *http.Response, finalURL *url.URL, taskLog *logrus.Entry) (*goquery.Document, string, error) {
	var reader io.Reader = resp.Body
	maxSize := pc.cfg.MaxPageSizeBytes
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body from '%s': %w", utils.ErrResponseBodyRead, finalURL.String(), err)
	}
	if maxSize > 0 && int64(len(body)) > maxSize {
		return nil, "", fmt.Errorf("%w: page '%s' exceeds max size (%d > %d bytes)", utils.ErrResponseBodyRead, finalURL.String(), len(body), maxSize)
	}
	taskLog.Debugf("Read %d bytes from response body", len(body))

	hash := utils.CalculateStringSHA256(string(body))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, hash, fmt.Errorf("%w: parsing HTML from '%s': %w", utils.ErrParsing, finalURL.String(), err)
	}
	return doc, hash, nil
}

// failedRecord builds the record for a failed task. resp, when present, contributes the
// status code, diagnostic headers and a body preview; its body is consumed up to the preview size.
func failedRecord(task models.FetchTask, err error, resp *http.Response) models.PageRecord {
	rec := models.PageRecord{
		URL:         task.URL,
		Depth:       task.Depth,
		CrawlStatus: models.CrawlStatusFailed,
		Error:       err.Error(),
		ErrorType:   utils.CategorizeError(err),
		HTTPStatus:  utils.HTTPStatusFromError(err),
	}
	if resp == nil {
		return rec
	}
	rec.HTTPStatus = resp.StatusCode
	rec.ResponseHeaders = make(map[string]string)
	for _, h := range diagnosticHeaders {
		if v := resp.Header.Get(h); v != "" {
			rec.ResponseHeaders[h] = v
		}
	}
	if resp.Body != nil {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, previewBytes))
		rec.ResponsePreview = strings.ToValidUTF8(string(preview), "")
	}
	return rec
}

// isHTML accepts text/html and application/xhtml+xml; a missing Content-Type is not HTML
func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
