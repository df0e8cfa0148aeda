// Package health implements the Health & Rate Tracker (C4): a standalone,
// (provider, credentialId)-keyed table of health scores, token buckets, and
// quota-freshness signals. The scoring math is grounded on the teacher's
// Credential.calculateScoreUnsafe/addFailureWeightUnsafe decay shape, but is
// re-keyed out of the Credential struct into its own table, matching this
// gateway's data model split between identity (internal/credential) and
// live health/rate state (this package).
package health

import "time"

const (
	// BaselineScore is the score a never-seen credential starts at.
	BaselineScore = 70.0
	MinScore      = 0.0
	MaxScore      = 100.0

	SuccessDelta   = 1.0
	FailureDelta   = -20.0
	RateLimitDelta = -10.0
)

// Record is the health state for one (provider, credentialId) pair.
type Record struct {
	Provider            string    `json:"provider"`
	CredentialID        string    `json:"credentialId"`
	Score               float64   `json:"score"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSuccessAt       time.Time `json:"lastSuccessAt"`
	LastFailureAt       time.Time `json:"lastFailureAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func newRecord(provider, credentialID string) *Record {
	return &Record{Provider: provider, CredentialID: credentialID, Score: BaselineScore}
}

func clampScore(s float64) float64 {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// TokenBucket is the rate-limiting bucket for one (provider, credentialId)
// pair, per §4.3's max-50/regen-6-per-minute policy.
type TokenBucket struct {
	Provider       string    `json:"provider"`
	CredentialID   string    `json:"credentialId"`
	Tokens         float64   `json:"tokens"`
	Max            float64   `json:"max"`
	RegenPerMinute float64   `json:"regenPerMinute"`
	LastRegenAt    time.Time `json:"lastRegenAt"`
}

func newBucket(provider, credentialID string, max, regenPerMinute float64) *TokenBucket {
	return &TokenBucket{
		Provider:       provider,
		CredentialID:   credentialID,
		Tokens:         max,
		Max:            max,
		RegenPerMinute: regenPerMinute,
		LastRegenAt:    time.Now(),
	}
}

// regenLocked lazily tops up tokens based on elapsed time since LastRegenAt.
// Must be called with the bucket's owning lock held.
func (b *TokenBucket) regenLocked(now time.Time) {
	if b.Tokens >= b.Max {
		b.LastRegenAt = now
		return
	}
	elapsed := now.Sub(b.LastRegenAt)
	if elapsed <= 0 {
		return
	}
	regen := b.RegenPerMinute * elapsed.Minutes()
	b.Tokens += regen
	if b.Tokens > b.Max {
		b.Tokens = b.Max
	}
	b.LastRegenAt = now
}

// Quota-signal bands, per §4.3/§4.4: a credential's remaining-quota fraction
// maps to one of four selection-weight bands, with a neutral fallback when
// the snapshot is stale or unknown. Default thresholds match
// config.DefaultSelectionConfig (quotaLowThreshold 0.2, quotaCriticalThresh
// 0.05); QuotaSignal takes the active config's thresholds explicitly so a
// provider override is honored rather than a second hardcoded copy.
const (
	QuotaSignalHealthy  = 1.0
	QuotaSignalLow      = 0.3
	QuotaSignalCritical = 0.05
	QuotaSignalNeutral  = 0.5
)

// QuotaSignal converts a remaining-quota fraction into a selection-weight
// band, given the active config's low/critical thresholds. fresh reports
// whether the snapshot is within the freshness TTL; a stale or absent
// snapshot always returns the neutral signal.
func QuotaSignal(remainingFraction float64, fresh bool, lowThreshold, criticalThreshold float64) float64 {
	if !fresh {
		return QuotaSignalNeutral
	}
	switch {
	case remainingFraction <= criticalThreshold:
		return QuotaSignalCritical
	case remainingFraction <= lowThreshold:
		return QuotaSignalLow
	default:
		return QuotaSignalHealthy
	}
}
