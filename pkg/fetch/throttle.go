package fetch

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/program-crawler/pkg/config"
)

// hostState tracks one host's concurrency permits and request spacing.
type hostState struct {
	sem         *semaphore.Weighted
	activeCount int64     // held + waiting permits
	lastRelease time.Time // zero if never released
	nextSlot    time.Time // earliest time the next request may start
	delay       time.Duration
}

// HostThrottle bounds concurrent requests per host and spaces them out. The spacing is the
// configured minimum delay, raised by latency feedback when auto-throttling is enabled.
// One throttle should be shared by every component that talks to the network.
type HostThrottle struct {
	hosts    map[string]*hostState
	mu       sync.Mutex
	limit    int64
	minDelay time.Duration
	auto     config.AutoThrottleConfig
	log      *logrus.Entry
}

// NewHostThrottle creates a throttle with the given per-host concurrency limit.
func NewHostThrottle(maxPerHost int, minDelay time.Duration, auto config.AutoThrottleConfig, log *logrus.Entry) *HostThrottle {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostThrottle{
		hosts:    make(map[string]*hostState),
		limit:    limit,
		minDelay: minDelay,
		auto:     auto,
		log:      log,
	}
}

// getOrCreate returns the state for host. Caller must hold t.mu.
func (t *HostThrottle) getOrCreate(host string) *hostState {
	st, ok := t.hosts[host]
	if !ok {
		st = &hostState{sem: semaphore.NewWeighted(t.limit), delay: t.minDelay}
		if t.auto.Enabled && t.auto.StartDelay > st.delay {
			st.delay = t.auto.StartDelay
		}
		t.hosts[host] = st
		t.log.WithFields(logrus.Fields{"host": host, "limit": t.limit, "delay": st.delay}).Debug("Tracking new host")
	}
	return st
}

// Acquire takes one concurrency permit for host, blocking until available or ctx is done.
func (t *HostThrottle) Acquire(ctx context.Context, host string) error {
	t.mu.Lock()
	st := t.getOrCreate(host)
	st.activeCount++
	t.mu.Unlock()

	if err := st.sem.Acquire(ctx, 1); err != nil {
		t.mu.Lock()
		st.activeCount--
		t.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for host.
func (t *HostThrottle) Release(host string) {
	t.mu.Lock()
	st, ok := t.hosts[host]
	if !ok {
		t.mu.Unlock()
		t.log.Errorf("throttle: Release called for unknown host: %s", host)
		return
	}
	st.activeCount--
	st.lastRelease = time.Now()
	t.mu.Unlock()

	st.sem.Release(1)
}

// Wait reserves the next request slot for host and sleeps until it arrives.
// Reservations are handed out under the lock so concurrent callers are spaced apart.
func (t *HostThrottle) Wait(ctx context.Context, host string) error {
	t.mu.Lock()
	st := t.getOrCreate(host)
	now := time.Now()
	slot := st.nextSlot
	if slot.Before(now) {
		slot = now
	}
	st.nextSlot = slot.Add(jittered(st.delay))
	t.mu.Unlock()

	sleep := time.Until(slot)
	if sleep <= 0 {
		return nil
	}
	t.log.WithFields(logrus.Fields{"host": host, "sleep": sleep}).Debug("Throttle applying sleep")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe adjusts the host delay from a response latency. Overload signals (network
// failures as statusCode 0, 429 and 5xx) double the delay; other error responses may raise
// it but never lower it. The result is capped at MaxDelay.
func (t *HostThrottle) Observe(host string, latency time.Duration, statusCode int) {
	if !t.auto.Enabled || t.auto.TargetConcurrency <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.getOrCreate(host)
	target := time.Duration(float64(latency) / t.auto.TargetConcurrency)
	next := (st.delay + target) / 2
	if next < target {
		next = target
	}
	if overloaded(statusCode) {
		bump := st.delay * 2
		if bump < minBackoffDelay {
			bump = minBackoffDelay
		}
		if next < bump {
			next = bump
		}
	}
	if next < t.minDelay {
		next = t.minDelay
	}
	if t.auto.MaxDelay > 0 && next > t.auto.MaxDelay {
		next = t.auto.MaxDelay
	}
	ok := statusCode >= 200 && statusCode < 300
	if !ok && next <= st.delay {
		return
	}
	if next != st.delay {
		t.log.WithFields(logrus.Fields{
			"host": host, "latency": latency, "status_code": statusCode,
		}).Debugf("Auto-throttle delay %v -> %v", st.delay, next)
	}
	st.delay = next
}

// minBackoffDelay is the first step when an overloaded host had no delay yet
const minBackoffDelay = 100 * time.Millisecond

func overloaded(statusCode int) bool {
	return statusCode == 0 || statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// Delay returns the current spacing for host.
func (t *HostThrottle) Delay(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.hosts[host]; ok {
		return st.delay
	}
	return t.minDelay
}

// RunEviction periodically removes idle hosts. Should be run in a goroutine.
func (t *HostThrottle) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.evictIdle(interval)
		case <-ctx.Done():
			t.log.Debugf("Stopping host throttle eviction: %v", ctx.Err())
			return
		}
	}
}

// evictIdle removes hosts with no activity for at least maxIdle.
func (t *HostThrottle) evictIdle(maxIdle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	evicted := 0
	for host, st := range t.hosts {
		if st.activeCount == 0 && !st.lastRelease.IsZero() && now.Sub(st.lastRelease) >= maxIdle && now.After(st.nextSlot) {
			delete(t.hosts, host)
			evicted++
		}
	}
	if evicted > 0 {
		t.log.Debugf("Evicted %d idle hosts, %d remain", evicted, len(t.hosts))
	}
}

// Len returns the number of tracked hosts.
func (t *HostThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.hosts)
}

// jittered applies +/-10% jitter to d.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterRange := int64(d) / 5
	if jitterRange <= 0 {
		return d
	}
	out := d + time.Duration(rand.Int63n(jitterRange)) - d/10
	if out < 0 {
		return 0
	}
	return out
}
