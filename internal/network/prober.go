package network

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
)

// Prober is an Observer that polls a health URL with HEAD requests. Any
// response below 500 counts as reachable.
type Prober struct {
	*hub
	url        string
	interval   time.Duration
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewProber creates a Prober. It starts offline until the first probe.
func NewProber(url string, interval, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Prober{
		hub:        newHub(false),
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
		logger:     logging.Component(logger, "network"),
	}
}

// Probe checks reachability once and updates the state.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.reachable(ctx)
	if p.set(online) {
		p.logger.Info("connectivity changed", "online", online)
	}
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("probe request", logging.Err(err))
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", logging.Err(err))
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.Probe(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			p.Probe(ctx)
		}
	}
}
