// Package apikey implements the client-facing ApiKey table (§3) and the
// quota/concurrency checks C9 runs in front of every /v1/messages and
// /v1/chat/completions call. Grounded on internal/credential.Manager's
// shape (store-backed CRUD plus an in-memory index), generalized from
// upstream-account identity to opaque, budget-carrying client keys.
package apikey

import "time"

// Limits bounds one ApiKey's usage, per §3.
type Limits struct {
	Daily         int     `json:"daily,omitempty"`
	Monthly       int     `json:"monthly,omitempty"`
	Total         int     `json:"total,omitempty"`
	Concurrent    int     `json:"concurrent,omitempty"`
	RatePerMinute int     `json:"rate,omitempty"`
	DailyCost     float64 `json:"dailyCost,omitempty"`
	MonthlyCost   float64 `json:"monthlyCost,omitempty"`
	TotalCost     float64 `json:"totalCost,omitempty"`
	ExpiresInDays int     `json:"expiresInDays,omitempty"`
}

// Key is one client-facing API key record (§3). KeyValue is only ever
// populated transiently on creation, when the plaintext is handed back to
// the caller once; persisted rows carry only KeyHash/KeyPrefix.
type Key struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	KeyValue    string    `json:"keyValue,omitempty"`
	KeyHash     string    `json:"keyHash"`
	KeyPrefix   string    `json:"keyPrefix"`
	Active      bool      `json:"active"`
	Limits      Limits    `json:"limits"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsedAt  time.Time `json:"lastUsedAt,omitempty"`
}

// EffectiveExpiry returns the timestamp after which the key is no longer
// valid, or the zero Time if ExpiresInDays is unset (never expires), per
// §3's invariant.
func (k Key) EffectiveExpiry() time.Time {
	if k.Limits.ExpiresInDays <= 0 {
		return time.Time{}
	}
	return k.CreatedAt.AddDate(0, 0, k.Limits.ExpiresInDays)
}

// IsExpired reports whether now is past the key's effective expiry.
func (k Key) IsExpired(now time.Time) bool {
	expiry := k.EffectiveExpiry()
	return !expiry.IsZero() && now.After(expiry)
}

// LogRow is one ApiLog row (§3), written once per completed request.
type LogRow struct {
	RequestID    string    `json:"requestId"`
	APIKeyID     string    `json:"apiKeyId"`
	CredentialID string    `json:"credentialId,omitempty"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	StatusCode   int       `json:"statusCode"`
	DurationMS   int64     `json:"durationMs"`
	Path         string    `json:"path"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
