// Package background implements C12: the single-instance sweepers that
// keep credential tokens fresh, quota snapshots current, and the ApiLog
// table bounded. Grounded on the teacher's internal/server auto-probe
// goroutine (started once from BuildEngines) for the overall
// ticker-loop-guarded-against-overlap shape, generalized from one GC-probe
// loop into the three independent sweepers §5 names.
package background

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/token"
)

var allProviders = []credential.Provider{
	credential.ProviderKiro,
	credential.ProviderAnthropic,
	credential.ProviderGemini,
	credential.ProviderOrchids,
	credential.ProviderWarp,
	credential.ProviderVertex,
	credential.ProviderBedrock,
}

// Runner owns the three sweepers and the config snapshot they read their
// intervals and thresholds from.
type Runner struct {
	Config      *config.Manager
	Credentials *credential.Manager
	Tokens      *token.Manager
	Keys        *apikey.Manager
}

// Start launches all three sweepers as goroutines; they run until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.tokenRefreshLoop(ctx)
	go r.quotaRefreshLoop(ctx)
	go r.logRetentionLoop(ctx)
}

// tokenRefreshLoop refreshes any credential whose expiry is within the
// configured look-ahead window (§5, default 30 min interval / 180s ahead).
func (r *Runner) tokenRefreshLoop(ctx context.Context) {
	var running int32
	for {
		snap := r.Config.Snapshot()
		interval := time.Duration(snap.File.Background.TokenRefreshIntervalMin) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue // previous sweep still in flight, skip this tick
		}
		r.sweepTokenRefresh(ctx)
		atomic.StoreInt32(&running, 0)
	}
}

func (r *Runner) sweepTokenRefresh(ctx context.Context) {
	snap := r.Config.Snapshot()
	ahead := time.Duration(snap.File.Background.TokenRefreshAheadSec) * time.Second
	if ahead <= 0 {
		ahead = 180 * time.Second
	}
	for _, provider := range allProviders {
		for _, cred := range r.Credentials.ListActive(provider) {
			if !r.Tokens.IsExpiringSoon(cred.ExpiresAt, ahead) {
				continue
			}
			if err := r.Tokens.Refresh(ctx, cred); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"provider":   provider,
					"credential": cred.ID,
				}).Warn("background: token refresh sweep failed for credential")
			}
		}
	}
}

// quotaRefreshLoop flags any credential whose quota snapshot has gone
// stale (§5, default 5 min interval). Per-provider quota probe endpoints
// are not modeled by the Adapter interface (C6 only builds chat requests),
// so this sweeper's job is the freshness check itself; wiring an actual
// probe call is future work for whichever provider adapter grows one.
func (r *Runner) quotaRefreshLoop(ctx context.Context) {
	var running int32
	for {
		snap := r.Config.Snapshot()
		interval := time.Duration(snap.File.Background.QuotaRefreshIntervalMin) * time.Minute
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		r.sweepQuota(ctx)
		atomic.StoreInt32(&running, 0)
	}
}

func (r *Runner) sweepQuota(ctx context.Context) {
	snap := r.Config.Snapshot()
	ttl := time.Duration(snap.File.Background.QuotaTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	stale := 0
	for _, provider := range allProviders {
		for _, cred := range r.Credentials.ListActive(provider) {
			for modelID := range cred.Quota {
				if !r.Credentials.IsQuotaFresh(cred.ID, modelID, ttl) {
					stale++
				}
			}
		}
	}
	if stale > 0 {
		log.WithField("staleCount", stale).Debug("background: quota sweep found stale entries")
	}
}

// logRetentionLoop deletes ApiLog rows older than the retention window
// once a day (§5).
func (r *Runner) logRetentionLoop(ctx context.Context) {
	var running int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(24 * time.Hour):
		}
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		r.sweepLogRetention(ctx)
		atomic.StoreInt32(&running, 0)
	}
}

func (r *Runner) sweepLogRetention(ctx context.Context) {
	snap := r.Config.Snapshot()
	days := snap.File.Background.LogRetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := r.Keys.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		log.WithError(err).Warn("background: log retention sweep failed")
		return
	}
	if n > 0 {
		log.WithField("deleted", n).Info("background: log retention sweep removed expired rows")
	}
}
