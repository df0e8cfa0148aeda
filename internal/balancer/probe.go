package balancer

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/metrics"
)

// Prober actively probes every backend's /health endpoint on a fixed
// interval, per §4.9.
type Prober struct {
	pool     *Pool
	client   *http.Client
	interval time.Duration
}

// NewProber constructs a Prober with the spec's default 30s interval and
// 3s per-probe timeout.
func NewProber(pool *Pool) *Prober {
	return &Prober{
		pool:     pool,
		client:   &http.Client{Timeout: 3 * time.Second},
		interval: 30 * time.Second,
	}
}

// Run probes every backend once as soon as it is called, then on every
// tick until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.probeAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, b := range p.pool.Backends() {
		go p.probeOne(ctx, b)
	}
}

func (p *Prober) probeOne(ctx context.Context, b *Backend) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := b.URL()
	url.Path = "/health"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url.String(), nil)
	if err != nil {
		b.SetHealthy(false)
		metrics.BalancerBackendHealthy.WithLabelValues(b.Addr()).Set(0)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		b.SetHealthy(false)
		metrics.BalancerBackendHealthy.WithLabelValues(b.Addr()).Set(0)
		log.WithError(err).WithField("backend", b.Addr()).Debug("balancer: active probe failed")
		return
	}
	resp.Body.Close()
	healthy := resp.StatusCode < 500
	b.SetHealthy(healthy)
	if healthy {
		metrics.BalancerBackendHealthy.WithLabelValues(b.Addr()).Set(1)
	} else {
		metrics.BalancerBackendHealthy.WithLabelValues(b.Addr()).Set(0)
	}
}

// StartupProbe runs one probe pass after the 5s delay named in §4.9,
// before the regular ticker takes over.
func StartupProbe(ctx context.Context, prober *Prober) {
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		prober.probeAll(ctx)
	}
}
