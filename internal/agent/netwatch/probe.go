package netwatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fieldline/casesync/internal/logging"
)

// HTTPProbe implements Oracle by issuing GET requests against the dispatch
// server's health endpoint. Run drives a background loop that remembers the
// last observed state and signals on transitions.
type HTTPProbe struct {
	url        string
	httpClient *http.Client
	interval   time.Duration
	logger     logging.Logger

	mu        sync.Mutex
	reachable bool
	known     bool
	changes   chan struct{}
}

// NewHTTPProbe builds a probe against baseURL's /health endpoint.
func NewHTTPProbe(baseURL string, interval time.Duration, logger logging.Logger, httpClient *http.Client) *HTTPProbe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HTTPProbe{
		url:        baseURL + "/health",
		httpClient: httpClient,
		interval:   interval,
		logger:     logger.With("component", "netwatch"),
		changes:    make(chan struct{}, 1),
	}
}

// IsReachable performs a live probe and records the observation.
func (p *HTTPProbe) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.observe(ctx, false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	p.observe(ctx, ok)
	return ok
}

// Changes returns the transition signal channel.
func (p *HTTPProbe) Changes() <-chan struct{} {
	return p.changes
}

// Run probes on the configured interval until ctx is cancelled, so
// transitions are noticed even while no worker is actively asking.
func (p *HTTPProbe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.IsReachable(ctx)
		}
	}
}

// observe stores the probe result and signals when reachability flips.
// The signal channel has capacity 1; an unconsumed signal is not duplicated.
func (p *HTTPProbe) observe(ctx context.Context, reachable bool) {
	p.mu.Lock()
	flipped := !p.known || p.reachable != reachable
	p.reachable = reachable
	p.known = true
	p.mu.Unlock()

	if !flipped {
		return
	}

	p.logger.Info(ctx, "reachability changed", "reachable", reachable)
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

var _ Oracle = (*HTTPProbe)(nil)
