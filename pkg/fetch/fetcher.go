package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// HTTPFetcher performs a single logical fetch, retrying transient failures
type HTTPFetcher interface {
	FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ResponseObserver receives per-attempt latency feedback. statusCode is 0 for network errors.
type ResponseObserver interface {
	Observe(host string, latency time.Duration, statusCode int)
}

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client      *http.Client
	cfg         *config.AppConfig
	retryStatus map[int]bool
	allowStatus map[int]bool
	observer    ResponseObserver
	log         *logrus.Entry
}

// NewFetcher creates a new Fetcher. observer may be nil.
func NewFetcher(client *http.Client, cfg *config.AppConfig, observer ResponseObserver, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:      client,
		cfg:         cfg,
		retryStatus: config.StatusSet(cfg.RetryStatusCodes),
		allowStatus: config.StatusSet(cfg.AllowedStatusCodes),
		observer:    observer,
		log:         log,
	}
}

// backoffDelay returns initial * 2^(attempt-1) capped at max, with +/-10% jitter
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > max {
		delay = max
	}
	var jitter time.Duration
	if delay/5 > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

// FetchWithRetry performs req, retrying network errors and configured retry statuses with
// exponential backoff and jitter.
//
// A response with an allowed status is returned with a nil error so the caller parses it as
// content. An allowed status that is also retryable is retried first and returned as content
// only if the final attempt still produces it. Other non-2xx responses are returned alongside
// a wrapped HTTP sentinel error; the caller must close the body in both cases.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.cfg.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			finalDelay := backoffDelay(attempt, f.cfg.InitialRetryDelay, f.cfg.MaxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		start := time.Now()
		currentResp, lastErr = f.client.Do(req.WithContext(ctx))
		latency := time.Since(start)

		if lastErr != nil {
			f.observe(req, latency, 0)
			drainAndClose(currentResp)
			// Client.Timeout also wraps DeadlineExceeded; only the caller's context is terminal
			if ctx.Err() != nil {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		f.observe(req, latency, statusCode)
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})
		lastAttempt := attempt == maxRetries

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case f.retryStatus[statusCode] && !lastAttempt:
			resLog.Warn("Retryable status, retrying...")
			lastErr = statusError(statusCode, currentResp.Status)
			drainAndClose(currentResp)
			continue

		case f.allowStatus[statusCode]:
			resLog.Info("Allowed non-2xx status, treating body as content")
			return currentResp, nil

		case f.retryStatus[statusCode]:
			lastErr = statusError(statusCode, currentResp.Status)
			drainAndClose(currentResp)
			currentResp = nil

		default:
			resLog.Warn("Non-retryable status, not retrying")
			return currentResp, statusError(statusCode, currentResp.Status)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	drainAndClose(currentResp)

	if lastErr != nil {
		if ctx.Err() != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

func (f *Fetcher) observe(req *http.Request, latency time.Duration, statusCode int) {
	if f.observer != nil {
		f.observer.Observe(req.URL.Hostname(), latency, statusCode)
	}
}

// statusError wraps a non-2xx status in the matching HTTP sentinel
func statusError(statusCode int, status string) error {
	switch {
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, status)
	case statusCode >= 400:
		return fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, status)
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, status)
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
