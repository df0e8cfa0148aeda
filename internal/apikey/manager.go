package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nullstack-gw/nexusgate/internal/storage"
)

const (
	collectionKeys = "api_keys"
	collectionLogs = "api_logs"

	keyPrefixLen = 10
)

// Manager owns the ApiKey table plus the in-memory per-key concurrency
// semaphores §5 requires ("a counting semaphore that is released in a
// finally/deferred block"). Quota counters are not cached in memory —
// they are computed on demand from ApiLog rows via storage.CountWhere,
// matching §4.8 step 2's "rolling windows keyed by the created_at
// day/month of ApiLog rows" wording directly instead of introducing a
// second source of truth.
type Manager struct {
	store storage.Backend

	semMu sync.Mutex
	sems  map[string]chan struct{}

	limMu sync.Mutex
	lims  map[string]*rate.Limiter
}

// NewManager constructs a Manager backed by store.
func NewManager(store storage.Backend) *Manager {
	return &Manager{
		store: store,
		sems:  make(map[string]chan struct{}),
		lims:  make(map[string]*rate.Limiter),
	}
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("apikey: generating secret: %w", err)
	}
	return "sk-gw-" + hex.EncodeToString(raw), nil
}

// Create mints a new key for userID/name with the given limits, persists
// its hash, and returns the record with KeyValue populated — the only
// time the plaintext is ever available.
func (m *Manager) Create(ctx context.Context, userID, name string, limits Limits) (*Key, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	prefix := secret
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	k := &Key{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyValue:  secret,
		KeyHash:   hashKey(secret),
		KeyPrefix: prefix,
		Active:    true,
		Limits:    limits,
		CreatedAt: time.Now(),
	}
	if err := m.store.Insert(ctx, collectionKeys, k.ID, toRow(k)); err != nil {
		return nil, fmt.Errorf("apikey: create: %w", err)
	}
	return k, nil
}

// Authenticate looks up the key whose hash matches plaintext. It does not
// check active/expiry — callers (the auth middleware) apply those checks
// so the distinction between "not found", "inactive", and "expired" can
// be surfaced distinctly if ever needed.
func (m *Manager) Authenticate(ctx context.Context, plaintext string) (*Key, error) {
	row, err := m.store.FindByKey(ctx, collectionKeys, "keyHash", hashKey(plaintext))
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// GetByID returns one key by id, for admin surfaces.
func (m *Manager) GetByID(ctx context.Context, id string) (*Key, error) {
	row, err := m.store.FindByID(ctx, collectionKeys, id)
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// List returns every key, for the admin surface.
func (m *Manager) List(ctx context.Context) ([]*Key, error) {
	rows, err := m.store.ListWhere(ctx, collectionKeys, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]*Key, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// ToggleActive flips a key's active flag (revocation), per §3's lifecycle.
func (m *Manager) ToggleActive(ctx context.Context, id string, active bool) error {
	row, err := m.store.FindByID(ctx, collectionKeys, id)
	if err != nil {
		return err
	}
	k := fromRow(row)
	k.Active = active
	return m.store.Update(ctx, collectionKeys, id, toRow(k))
}

// Delete removes a key entirely.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, collectionKeys, id)
}

// TouchLastUsed records the current time as the key's last-used timestamp.
func (m *Manager) TouchLastUsed(ctx context.Context, id string) error {
	row, err := m.store.FindByID(ctx, collectionKeys, id)
	if err != nil {
		return err
	}
	k := fromRow(row)
	k.LastUsedAt = time.Now()
	return m.store.Update(ctx, collectionKeys, id, toRow(k))
}

// CountSince counts ApiLog rows for apiKeyID created at or after since —
// the rolling-window primitive §4.8 step 2's daily/monthly/total quota
// checks are built from.
func (m *Manager) CountSince(ctx context.Context, apiKeyID string, since time.Time) (int64, error) {
	return m.store.CountWhere(ctx, collectionLogs, []storage.Filter{
		{Field: "apiKeyId", Op: storage.OpEq, Value: apiKeyID},
		{Field: "createdAtUnix", Op: storage.OpGte, Value: float64(since.Unix())},
	})
}

// DeleteLogsBefore removes every ApiLog row created before cutoff, for
// C12's daily log-retention sweeper. It lists in bounded pages rather than
// one unbounded scan, since the retention window can span a large row
// count on a long-lived deployment.
func (m *Manager) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const page = 500
	deleted := 0
	for {
		rows, err := m.store.ListWhere(ctx, collectionLogs, storage.ListOptions{
			Filters: []storage.Filter{{Field: "createdAtUnix", Op: storage.OpLt, Value: float64(cutoff.Unix())}},
			Limit:   page,
		})
		if err != nil {
			return deleted, err
		}
		if len(rows) == 0 {
			return deleted, nil
		}
		for _, row := range rows {
			id, _ := row["id"].(string)
			if id == "" {
				continue
			}
			if err := m.store.Delete(ctx, collectionLogs, id); err != nil {
				return deleted, err
			}
			deleted++
		}
		if len(rows) < page {
			return deleted, nil
		}
	}
}

// AppendLog writes one ApiLog row.
func (m *Manager) AppendLog(ctx context.Context, row LogRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	id := uuid.NewString()
	return m.store.Insert(ctx, collectionLogs, id, storage.Record{
		"id":            id,
		"requestId":     row.RequestID,
		"apiKeyId":      row.APIKeyID,
		"credentialId":  row.CredentialID,
		"model":         row.Model,
		"inputTokens":   row.InputTokens,
		"outputTokens":  row.OutputTokens,
		"statusCode":    row.StatusCode,
		"durationMs":    row.DurationMS,
		"path":          row.Path,
		"source":        row.Source,
		"createdAt":     row.CreatedAt,
		"createdAtUnix": float64(row.CreatedAt.Unix()),
	})
}

// Acquire tries to take one concurrency slot for apiKeyID out of max.
// Returns a release func and ok=true on success; ok=false means the
// concurrency limit is currently exhausted. max<=0 means unlimited.
func (m *Manager) Acquire(apiKeyID string, max int) (release func(), ok bool) {
	if max <= 0 {
		return func() {}, true
	}
	sem := m.semFor(apiKeyID, max)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return func() {}, false
	}
}

// AllowRate reports whether apiKeyID may make one more request right now
// under its per-minute rate limit, consuming one token if so. perMinute<=0
// means unlimited. The limiter is created lazily and kept for the life of
// the process, mirroring the semFor concurrency-slot pattern — this is a
// local token bucket, not a persisted one, since §5 only requires the
// credential-side token buckets (C4) to survive restarts.
func (m *Manager) AllowRate(apiKeyID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	return m.limiterFor(apiKeyID, perMinute).Allow()
}

func (m *Manager) limiterFor(apiKeyID string, perMinute int) *rate.Limiter {
	ratePerSec := rate.Limit(float64(perMinute) / 60.0)
	m.limMu.Lock()
	defer m.limMu.Unlock()
	lim, ok := m.lims[apiKeyID]
	if !ok || lim.Limit() != ratePerSec {
		lim = rate.NewLimiter(ratePerSec, maxInt(perMinute, 1))
		m.lims[apiKeyID] = lim
	}
	return lim
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m *Manager) semFor(apiKeyID string, max int) chan struct{} {
	m.semMu.Lock()
	defer m.semMu.Unlock()
	sem, ok := m.sems[apiKeyID]
	if !ok || cap(sem) != max {
		sem = make(chan struct{}, max)
		m.sems[apiKeyID] = sem
	}
	return sem
}

func toRow(k *Key) storage.Record {
	return storage.Record{
		"id":         k.ID,
		"userId":     k.UserID,
		"name":       k.Name,
		"keyHash":    k.KeyHash,
		"keyPrefix":  k.KeyPrefix,
		"active":     k.Active,
		"limits":     limitsToRow(k.Limits),
		"createdAt":  k.CreatedAt,
		"lastUsedAt": k.LastUsedAt,
	}
}

func fromRow(row storage.Record) *Key {
	k := &Key{
		ID:         asString(row["id"]),
		UserID:     asString(row["userId"]),
		Name:       asString(row["name"]),
		KeyHash:    asString(row["keyHash"]),
		KeyPrefix:  asString(row["keyPrefix"]),
		Active:     asBool(row["active"]),
		CreatedAt:  asTime(row["createdAt"]),
		LastUsedAt: asTime(row["lastUsedAt"]),
	}
	if sub, ok := row["limits"].(storage.Record); ok {
		k.Limits = limitsFromRow(sub)
	} else if sub, ok := row["limits"].(map[string]interface{}); ok {
		k.Limits = limitsFromRow(storage.Record(sub))
	}
	return k
}

func limitsToRow(l Limits) storage.Record {
	return storage.Record{
		"daily":         l.Daily,
		"monthly":       l.Monthly,
		"total":         l.Total,
		"concurrent":    l.Concurrent,
		"rate":          l.RatePerMinute,
		"dailyCost":     l.DailyCost,
		"monthlyCost":   l.MonthlyCost,
		"totalCost":     l.TotalCost,
		"expiresInDays": l.ExpiresInDays,
	}
}

func limitsFromRow(row storage.Record) Limits {
	return Limits{
		Daily:         int(asFloat(row["daily"])),
		Monthly:       int(asFloat(row["monthly"])),
		Total:         int(asFloat(row["total"])),
		Concurrent:    int(asFloat(row["concurrent"])),
		RatePerMinute: int(asFloat(row["rate"])),
		DailyCost:     asFloat(row["dailyCost"]),
		MonthlyCost:   asFloat(row["monthlyCost"]),
		TotalCost:     asFloat(row["totalCost"]),
		ExpiresInDays: int(asFloat(row["expiresInDays"])),
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
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
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
