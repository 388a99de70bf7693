package crawler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/fetch"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

const rootHTML = `<html><head><title>MSc Data Science</title></head><body>
<h1>MSc Data Science</h1>
<p>A one year taught programme in statistics and machine learning.</p>
<a href="/fees">Tuition fees</a>
<a href="/news">Campus news</a>
<footer><a href="/contact">Contact</a></footer>
</body></html>`

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		MaxRetries:        1,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		MaxLinksPerPage:   10,
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestCrawler(t *testing.T, cfg *config.AppConfig) *PageCrawler {
	t.Helper()
	log := testLogger()
	throttle := fetch.NewHostThrottle(cfg.MaxRequestsPerHost, cfg.DelayPerHost, cfg.AutoThrottle, log)
	fetcher := fetch.NewFetcher(&http.Client{Timeout: 5 * time.Second}, cfg, throttle, log)
	return NewPageCrawler(cfg, fetcher, throttle, log, nil)
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/program", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, rootHTML)
	})
	mux.HandleFunc("/brochure.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "test-server")
		http.Error(w, "no such page", http.StatusNotFound)
	})
	mux.HandleFunc("/old-program", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/program", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `<html><head><title>Busy</title></head><body><p>Service is temporarily overloaded, try later.</p></body></html>`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(make([]byte, 4096))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func task(url string, depth int) models.FetchTask {
	return models.FetchTask{ProjectID: "p1", URL: url, Depth: depth}
}

func TestProcess_RootPage(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/program", 0), testLogger())

	rec := res.Record
	assert.Equal(t, models.CrawlStatusSuccess, rec.CrawlStatus)
	assert.Equal(t, "MSc Data Science", rec.Title)
	assert.Contains(t, rec.Content, "[HEADING] MSc Data Science")
	assert.Contains(t, rec.Content, "statistics and machine learning")
	assert.Equal(t, http.StatusOK, rec.HTTPStatus)
	assert.Len(t, rec.ContentHash, 64)
	assert.False(t, rec.FetchedAt.IsZero())
	assert.Empty(t, rec.Error)

	require.Len(t, res.Links, 2, "footer links are dropped, filtering is left to the caller")
	assert.Equal(t, srv.URL+"/fees", res.Links[0].URL)
	assert.Equal(t, "Tuition fees", res.Links[0].AnchorText)
	assert.Equal(t, srv.URL+"/news", res.Links[1].URL)
}

func TestProcess_ChildPageDoesNotExtractLinks(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/program", 1), testLogger())

	assert.Equal(t, models.CrawlStatusSuccess, res.Record.CrawlStatus)
	assert.Empty(t, res.Links)
}

func TestProcess_NonHTMLIsSkipped(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/brochure.pdf", 1), testLogger())

	assert.Equal(t, models.CrawlStatusSkippedNonHTML, res.Record.CrawlStatus)
	assert.Equal(t, "non-HTML content - Content-Type: application/pdf", res.Record.Content)
	assert.Empty(t, res.Links)
}

func TestProcess_AllowedStatusParsedAsContent(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/busy", 1), testLogger())

	assert.Equal(t, models.CrawlStatusSuccess, res.Record.CrawlStatus)
	assert.Equal(t, http.StatusServiceUnavailable, res.Record.HTTPStatus)
	assert.Equal(t, "Busy", res.Record.Title)
	assert.Contains(t, res.Record.Content, "temporarily overloaded")
}

func TestProcess_ClientErrorRecordsDiagnostics(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/missing", 1), testLogger())

	rec := res.Record
	assert.Equal(t, models.CrawlStatusFailed, rec.CrawlStatus)
	assert.Equal(t, http.StatusNotFound, rec.HTTPStatus)
	assert.Equal(t, "HTTP_404", rec.ErrorType)
	assert.Equal(t, "test-server", rec.ResponseHeaders["Server"])
	assert.Contains(t, rec.ResponsePreview, "no such page")
	assert.NotEmpty(t, rec.Error)
}

func TestProcess_ServerErrorAfterRetries(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/broken", 0), testLogger())

	assert.Equal(t, models.CrawlStatusFailed, res.Record.CrawlStatus)
	assert.Equal(t, "RetryFailed_HTTPServer", res.Record.ErrorType)
	assert.Equal(t, http.StatusInternalServerError, res.Record.HTTPStatus)
	assert.Empty(t, res.Links)
}

func TestProcess_PageTooLarge(t *testing.T) {
	srv := testServer(t)
	cfg := testConfig(t)
	cfg.MaxPageSizeBytes = 1024
	pc := newTestCrawler(t, cfg)

	res := pc.Process(context.Background(), task(srv.URL+"/huge", 1), testLogger())

	assert.Equal(t, models.CrawlStatusFailed, res.Record.CrawlStatus)
	assert.Contains(t, res.Record.Error, "exceeds max size")
}

func TestProcess_InvalidURL(t *testing.T) {
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task("/relative/only", 1), testLogger())

	assert.Equal(t, models.CrawlStatusFailed, res.Record.CrawlStatus)
	assert.Equal(t, "/relative/only", res.Record.URL)
	assert.Equal(t, 1, res.Record.Depth)
}

func TestProcess_CancelledContext(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := pc.Process(ctx, task(srv.URL+"/program", 0), testLogger())

	assert.Equal(t, models.CrawlStatusFailed, res.Record.CrawlStatus)
}

func TestProcess_GlobalSemaphoreTimeout(t *testing.T) {
	srv := testServer(t)
	cfg := testConfig(t)
	cfg.SemaphoreAcquireTimeout = 20 * time.Millisecond

	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))
	log := testLogger()
	throttle := fetch.NewHostThrottle(cfg.MaxRequestsPerHost, 0, cfg.AutoThrottle, log)
	pc := NewPageCrawler(cfg, fetch.NewFetcher(http.DefaultClient, cfg, nil, log), throttle, log, &Options{SharedSemaphore: sem})

	res := pc.Process(context.Background(), task(srv.URL+"/program", 0), log)

	assert.Equal(t, models.CrawlStatusFailed, res.Record.CrawlStatus)
	assert.Equal(t, utils.CategorizeError(utils.ErrSemaphoreTimeout), res.Record.ErrorType)

	// Host slot must have been released on the failure path
	require.NoError(t, throttle.Acquire(context.Background(), "127.0.0.1"))
	throttle.Release("127.0.0.1")
}

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("text/html; charset=UTF-8"))
	assert.True(t, isHTML("TEXT/HTML"))
	assert.True(t, isHTML("application/xhtml+xml"))
	assert.False(t, isHTML("application/pdf"))
	assert.False(t, isHTML("application/json"))
	assert.False(t, isHTML(""))
}

func TestProcess_RedirectReportsFinalURL(t *testing.T) {
	srv := testServer(t)
	pc := newTestCrawler(t, testConfig(t))

	res := pc.Process(context.Background(), task(srv.URL+"/old-program", 0), testLogger())

	assert.Equal(t, models.CrawlStatusSuccess, res.Record.CrawlStatus)
	assert.Equal(t, srv.URL+"/old-program", res.Record.URL)
	assert.Equal(t, srv.URL+"/program", res.FinalURL)
	assert.NotEmpty(t, res.Links)
}
