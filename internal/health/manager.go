package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nullstack-gw/nexusgate/internal/storage"
)

const (
	collectionHealth  = "health"
	collectionBuckets = "token_buckets"
)

// Manager tracks health scores and token buckets for every (provider,
// credentialId) pair, persisted through a storage.Backend. Reads are
// lock-free against the in-memory cache; writes are serialized per key,
// mirroring internal/credential's per-id critical section.
type Manager struct {
	store storage.Backend

	bucketMax   float64
	bucketRegen float64

	mu      sync.RWMutex
	health  map[string]*Record
	buckets map[string]*TokenBucket

	keyLockMu sync.Mutex
	keyLocks  map[string]*sync.Mutex
}

// NewManager constructs a Manager. bucketMax/bucketRegen come from the
// active SelectionConfig (§4.3's default max 50, regen 6/minute).
func NewManager(store storage.Backend, bucketMax, bucketRegen float64) *Manager {
	return &Manager{
		store:       store,
		bucketMax:   bucketMax,
		bucketRegen: bucketRegen,
		health:      make(map[string]*Record),
		buckets:     make(map[string]*TokenBucket),
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

func key(provider, credentialID string) string {
	return provider + "/" + credentialID
}

func (m *Manager) lockFor(k string) *sync.Mutex {
	m.keyLockMu.Lock()
	defer m.keyLockMu.Unlock()
	l, ok := m.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[k] = l
	}
	return l
}

// Load reads every persisted health and bucket row into memory. Call once
// at startup; rows absent at call time are lazily created on first use.
func (m *Manager) Load(ctx context.Context) error {
	healthRows, err := m.store.ListWhere(ctx, collectionHealth, storage.ListOptions{})
	if err != nil {
		return fmt.Errorf("health: load health rows: %w", err)
	}
	bucketRows, err := m.store.ListWhere(ctx, collectionBuckets, storage.ListOptions{})
	if err != nil {
		return fmt.Errorf("health: load bucket rows: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range healthRows {
		rec := recordFromRow(row)
		m.health[key(rec.Provider, rec.CredentialID)] = rec
	}
	for _, row := range bucketRows {
		b := bucketFromRow(row)
		m.buckets[key(b.Provider, b.CredentialID)] = b
	}
	return nil
}

func (m *Manager) getOrCreateHealth(provider, credentialID string) *Record {
	k := key(provider, credentialID)
	m.mu.RLock()
	rec, ok := m.health[k]
	m.mu.RUnlock()
	if ok {
		return rec
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.health[k]; ok {
		return rec
	}
	rec = newRecord(provider, credentialID)
	m.health[k] = rec
	return rec
}

func (m *Manager) getOrCreateBucket(provider, credentialID string) *TokenBucket {
	k := key(provider, credentialID)
	m.mu.RLock()
	b, ok := m.buckets[k]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[k]; ok {
		return b
	}
	b = newBucket(provider, credentialID, m.bucketMax, m.bucketRegen)
	m.buckets[k] = b
	return b
}

func (m *Manager) persistHealth(ctx context.Context, rec *Record) error {
	return m.store.AtomicUpsert(ctx, collectionHealth,
		map[string]interface{}{"provider": rec.Provider, "credentialId": rec.CredentialID},
		healthToRow(rec))
}

func (m *Manager) persistBucket(ctx context.Context, b *TokenBucket) error {
	return m.store.AtomicUpsert(ctx, collectionBuckets,
		map[string]interface{}{"provider": b.Provider, "credentialId": b.CredentialID},
		bucketToRow(b))
}

// GetScore returns the current health score, applying no mutation.
func (m *Manager) GetScore(provider, credentialID string) float64 {
	rec := m.getOrCreateHealth(provider, credentialID)
	return rec.Score
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (m *Manager) ConsecutiveFailures(provider, credentialID string) int {
	rec := m.getOrCreateHealth(provider, credentialID)
	return rec.ConsecutiveFailures
}

// RecordSuccess applies the +1 delta and resets the consecutive-failure
// counter, per §4.3.
func (m *Manager) RecordSuccess(ctx context.Context, provider, credentialID string) (float64, error) {
	rec := m.getOrCreateHealth(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	rec.Score = clampScore(rec.Score + SuccessDelta)
	rec.ConsecutiveFailures = 0
	rec.LastSuccessAt = time.Now()
	rec.UpdatedAt = rec.LastSuccessAt
	return rec.Score, m.persistHealth(ctx, rec)
}

// RecordFailure applies the -20 delta and bumps the consecutive-failure
// counter, per §4.3.
func (m *Manager) RecordFailure(ctx context.Context, provider, credentialID string) (float64, error) {
	rec := m.getOrCreateHealth(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	rec.Score = clampScore(rec.Score + FailureDelta)
	rec.ConsecutiveFailures++
	rec.LastFailureAt = time.Now()
	rec.UpdatedAt = rec.LastFailureAt
	return rec.Score, m.persistHealth(ctx, rec)
}

// RecordRateLimit applies the -10 delta for a 429 response, distinct from a
// hard failure, per §4.3.
func (m *Manager) RecordRateLimit(ctx context.Context, provider, credentialID string) (float64, error) {
	rec := m.getOrCreateHealth(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	rec.Score = clampScore(rec.Score + RateLimitDelta)
	rec.ConsecutiveFailures++
	rec.LastFailureAt = time.Now()
	rec.UpdatedAt = rec.LastFailureAt
	return rec.Score, m.persistHealth(ctx, rec)
}

// PeekTokens returns the bucket's token count after lazily applying regen,
// without consuming anything.
func (m *Manager) PeekTokens(provider, credentialID string) float64 {
	b := m.getOrCreateBucket(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor("bucket/" + k)
	l.Lock()
	defer l.Unlock()
	b.regenLocked(time.Now())
	return b.Tokens
}

// ConsumeToken lazily regenerates, then consumes cost tokens if available.
// Returns ok=false without mutating the bucket if insufficient tokens
// remain.
func (m *Manager) ConsumeToken(ctx context.Context, provider, credentialID string, cost float64) (bool, float64, error) {
	b := m.getOrCreateBucket(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor("bucket/" + k)
	l.Lock()
	defer l.Unlock()

	b.regenLocked(time.Now())
	if b.Tokens < cost {
		return false, b.Tokens, nil
	}
	b.Tokens -= cost
	return true, b.Tokens, m.persistBucket(ctx, b)
}

// RefundToken returns tokens to the bucket, e.g. after a retried request
// that never reached the upstream. Capped at the bucket's max.
func (m *Manager) RefundToken(ctx context.Context, provider, credentialID string, amount float64) error {
	b := m.getOrCreateBucket(provider, credentialID)
	k := key(provider, credentialID)
	l := m.lockFor("bucket/" + k)
	l.Lock()
	defer l.Unlock()

	b.regenLocked(time.Now())
	b.Tokens += amount
	if b.Tokens > b.Max {
		b.Tokens = b.Max
	}
	return m.persistBucket(ctx, b)
}

func healthToRow(rec *Record) storage.Record {
	return storage.Record{
		"provider":            rec.Provider,
		"credentialId":        rec.CredentialID,
		"score":               rec.Score,
		"consecutiveFailures": rec.ConsecutiveFailures,
		"lastSuccessAt":       rec.LastSuccessAt,
		"lastFailureAt":       rec.LastFailureAt,
		"updatedAt":           rec.UpdatedAt,
	}
}

func recordFromRow(row storage.Record) *Record {
	rec := &Record{
		Provider:     asString(row["provider"]),
		CredentialID: asString(row["credentialId"]),
		Score:        BaselineScore,
	}
	if row["score"] != nil {
		rec.Score = asFloat(row["score"])
	}
	rec.ConsecutiveFailures = int(asFloat(row["consecutiveFailures"]))
	rec.LastSuccessAt = asTime(row["lastSuccessAt"])
	rec.LastFailureAt = asTime(row["lastFailureAt"])
	rec.UpdatedAt = asTime(row["updatedAt"])
	return rec
}

func bucketToRow(b *TokenBucket) storage.Record {
	return storage.Record{
		"provider":       b.Provider,
		"credentialId":   b.CredentialID,
		"tokens":         b.Tokens,
		"max":            b.Max,
		"regenPerMinute": b.RegenPerMinute,
		"lastRegenAt":    b.LastRegenAt,
	}
}

func bucketFromRow(row storage.Record) *TokenBucket {
	b := &TokenBucket{
		Provider:       asString(row["provider"]),
		CredentialID:   asString(row["credentialId"]),
		Tokens:         asFloat(row["tokens"]),
		Max:            asFloat(row["max"]),
		RegenPerMinute: asFloat(row["regenPerMinute"]),
		LastRegenAt:    asTime(row["lastRegenAt"]),
	}
	if b.Max == 0 {
		b.Max = 50
	}
	if b.RegenPerMinute == 0 {
		b.RegenPerMinute = 6
	}
	return b
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
