package fetch

import (
	"math/rand"
	"net/http"
)

// DefaultUserAgents is the rotation used when none are configured
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// UserAgentPool hands out a random user agent per request
type UserAgentPool struct {
	agents []string
}

// NewUserAgentPool falls back to DefaultUserAgents when agents is empty
func NewUserAgentPool(agents []string) *UserAgentPool {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &UserAgentPool{agents: agents}
}

// Pick returns one agent at random
func (p *UserAgentPool) Pick() string {
	return p.agents[rand.Intn(len(p.agents))]
}

// ApplyBrowserHeaders makes req look like a regular browser navigation.
// Accept-Encoding is left to the transport so gzip is decoded transparently.
func ApplyBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
}
