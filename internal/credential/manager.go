package credential

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/constants"
	"github.com/nullstack-gw/nexusgate/internal/storage"
)

const (
	collectionCredentials      = "credentials"
	collectionErrorCredentials = "error_credentials"
)

// Manager holds one in-memory slice of *Credential per process, backed by a
// storage.Backend for durability — matching the teacher's credential.Manager
// shape (load from sources, mutate under a per-id critical section, persist
// on change), generalized to this gateway's multi-provider data model.
type Manager struct {
	store storage.Backend

	mu          sync.RWMutex
	credentials []*Credential
	credLocks   map[string]*sync.Mutex
	lockMu      sync.Mutex

	// disableLock mirrors §5's `disable_credential_lock`: when set, mutation
	// skips the per-id critical section and relies on the store's own
	// row-level atomicity instead.
	disableLock bool

	roundRobin map[Provider]uint64
	rrMu       sync.Mutex
}

// NewManager constructs a Manager backed by store.
func NewManager(store storage.Backend, disableLock bool) *Manager {
	return &Manager{
		store:       store,
		credLocks:   make(map[string]*sync.Mutex),
		disableLock: disableLock,
		roundRobin:  make(map[Provider]uint64),
	}
}

// Load reads every credential row from the store into memory. Call once at
// startup and again after any out-of-process write (e.g. admin import).
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.store.ListWhere(ctx, collectionCredentials, storage.ListOptions{})
	if err != nil {
		return fmt.Errorf("credential: load: %w", err)
	}
	creds := make([]*Credential, 0, len(rows))
	for _, row := range rows {
		cred, err := fromRecord(row)
		if err != nil {
			log.WithError(err).Warn("credential: skipping malformed row")
			continue
		}
		creds = append(creds, cred)
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].ID < creds[j].ID })

	m.mu.Lock()
	m.credentials = creds
	m.mu.Unlock()

	log.WithField("count", len(creds)).Info("credential: loaded pool")
	return nil
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.credLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.credLocks[id] = l
	}
	return l
}

func (m *Manager) withCredLock(id string, fn func()) {
	if m.disableLock {
		fn()
		return
	}
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()
	fn()
}

// Add registers a new credential (an out-of-scope enrollment path calls
// this with the secrets it acquired).
func (m *Manager) Add(ctx context.Context, cred *Credential) error {
	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	if err := m.store.Insert(ctx, collectionCredentials, cred.ID, toRecord(cred)); err != nil {
		return fmt.Errorf("credential: add %s: %w", cred.ID, err)
	}
	m.mu.Lock()
	m.credentials = append(m.credentials, cred)
	m.mu.Unlock()
	return nil
}

// Update persists arbitrary field changes on an existing credential via fn,
// serialized per credential id.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Credential)) error {
	target := m.find(id)
	if target == nil {
		return fmt.Errorf("credential: %s not found", id)
	}
	var persistErr error
	m.withCredLock(id, func() {
		target.mu.Lock()
		fn(target)
		target.UpdatedAt = time.Now()
		target.mu.Unlock()
		persistErr = m.store.Update(ctx, collectionCredentials, id, toRecord(target))
	})
	return persistErr
}

// Delete removes a credential entirely (not the same as quarantine).
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, collectionCredentials, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.credentials {
		if c.ID == id {
			m.credentials = append(m.credentials[:i], m.credentials[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Manager) find(id string) *Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// GetByID returns a cloned credential by id.
func (m *Manager) GetByID(id string) (*Credential, bool) {
	c := m.find(id)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

// GetByName returns a cloned credential matching a display name.
func (m *Manager) GetByName(name string) (*Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.DisplayName == name {
			return c.Clone(), true
		}
	}
	return nil, false
}

// List returns clones of every credential for a provider.
func (m *Manager) List(provider Provider) []*Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Credential
	for _, c := range m.credentials {
		if c.Provider == provider {
			out = append(out, c.Clone())
		}
	}
	return out
}

// ListActive returns active credentials for a provider ordered by
// errorCount ASC, updatedAt DESC — the default fairness heuristic (§4.1).
func (m *Manager) ListActive(provider Provider) []*Credential {
	active := make([]*Credential, 0)
	for _, c := range m.List(provider) {
		if c.Active {
			active = append(active, c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].ErrorCount != active[j].ErrorCount {
			return active[i].ErrorCount < active[j].ErrorCount
		}
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})
	return active
}

// ToggleActive flips the active flag.
func (m *Manager) ToggleActive(ctx context.Context, id string, active bool) error {
	return m.Update(ctx, id, func(c *Credential) { c.Active = active })
}

// IncrementUseCount bumps the credential's use counter and last-used time.
func (m *Manager) IncrementUseCount(ctx context.Context, id string) error {
	now := time.Now()
	return m.Update(ctx, id, func(c *Credential) {
		c.UseCount++
		c.LastUsedAt = now
	})
}

// RecordErrorCount increments the error counter and stores the message,
// and reports whether the quarantine threshold has now been crossed.
func (m *Manager) RecordErrorCount(ctx context.Context, id, message string, quarantineThreshold int) (bool, error) {
	if len(message) > constants.MaxErrorMessageLength {
		message = message[:constants.MaxErrorMessageLength]
	}

	var crossed bool
	err := m.Update(ctx, id, func(c *Credential) {
		c.ErrorCount++
		c.LastErrorMsg = message
		c.LastErrorAt = time.Now()
		crossed = c.ErrorCount >= quarantineThreshold
	})
	return crossed, err
}

// Count returns the number of credentials currently held in memory,
// across all providers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.credentials)
}

// ResetErrorCount clears the error counter on sustained success.
func (m *Manager) ResetErrorCount(ctx context.Context, id string) error {
	return m.Update(ctx, id, func(c *Credential) {
		c.ErrorCount = 0
		c.LastErrorMsg = ""
	})
}

// UpdateQuota upserts the quota snapshot for one model.
func (m *Manager) UpdateQuota(ctx context.Context, id, modelID string, entry QuotaEntry) error {
	entry.FetchedAt = time.Now()
	return m.Update(ctx, id, func(c *Credential) {
		if c.Quota == nil {
			c.Quota = make(map[string]QuotaEntry)
		}
		c.Quota[modelID] = entry
	})
}

// IsQuotaFresh reports whether a credential's quota snapshot for modelID is
// within ttl of now.
func (m *Manager) IsQuotaFresh(id, modelID string, ttl time.Duration) bool {
	c := m.find(id)
	if c == nil {
		return false
	}
	return c.IsQuotaFresh(modelID, ttl, time.Now())
}

// MoveToError quarantines a credential: deactivates it and writes (or
// refreshes) an ErrorCredential row. If a prior error row for the same
// originalId already exists, its counter is incremented and the message
// and timestamp are refreshed instead of creating a duplicate row —
// idempotent per §4.1.
func (m *Manager) MoveToError(ctx context.Context, id, message string) error {
	target := m.find(id)
	if target == nil {
		return fmt.Errorf("credential: %s not found", id)
	}

	var outcomeErr error
	m.withCredLock(id, func() {
		existing, err := m.store.FindByKey(ctx, collectionErrorCredentials, "originalId", id)
		now := time.Now()

		target.mu.Lock()
		target.Active = false
		snapshot := *target
		snapshot.mu = sync.RWMutex{}
		target.mu.Unlock()

		if err == nil && existing != nil {
			errID, _ := existing["id"].(string)
			count := int(asFloat(existing["errorCount"])) + 1
			row := errorCredentialRecord(ErrorCredential{
				ID:           errID,
				OriginalID:   id,
				Provider:     target.Provider,
				DisplayName:  target.DisplayName,
				Snapshot:     snapshot,
				ErrorMessage: message,
				ErrorCount:   count,
				LastErrorAt:  now,
				CreatedAt:    asTime(existing["createdAt"]),
			})
			outcomeErr = m.store.Update(ctx, collectionErrorCredentials, errID, row)
		} else {
			errID := newErrorID()
			row := errorCredentialRecord(ErrorCredential{
				ID:           errID,
				OriginalID:   id,
				Provider:     target.Provider,
				DisplayName:  target.DisplayName,
				Snapshot:     snapshot,
				ErrorMessage: message,
				ErrorCount:   1,
				LastErrorAt:  now,
				CreatedAt:    now,
			})
			outcomeErr = m.store.Insert(ctx, collectionErrorCredentials, errID, row)
		}
		if outcomeErr != nil {
			return
		}
		outcomeErr = m.store.Update(ctx, collectionCredentials, id, toRecord(target))
	})
	return outcomeErr
}

// RestoreFromError reactivates a quarantined credential with fresh
// secrets, clearing its error state, and removes the ErrorCredential row.
func (m *Manager) RestoreFromError(ctx context.Context, errID, newAccessSecret, newRefreshSecret string) (*Credential, error) {
	row, err := m.store.FindByID(ctx, collectionErrorCredentials, errID)
	if err != nil {
		return nil, fmt.Errorf("credential: error row %s not found: %w", errID, err)
	}
	originalID, _ := row["originalId"].(string)
	target := m.find(originalID)
	if target == nil {
		return nil, fmt.Errorf("credential: original credential %s not found", originalID)
	}

	m.withCredLock(originalID, func() {
		target.mu.Lock()
		target.Active = true
		if newAccessSecret != "" {
			target.AccessSecret = newAccessSecret
		}
		if newRefreshSecret != "" {
			target.RefreshSecret = newRefreshSecret
		}
		target.ErrorCount = 0
		target.LastErrorMsg = ""
		target.mu.Unlock()

		err = m.store.Update(ctx, collectionCredentials, originalID, toRecord(target))
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, collectionErrorCredentials, errID); err != nil {
		return nil, fmt.Errorf("credential: removing error row %s: %w", errID, err)
	}
	return target.Clone(), nil
}

func errorCredentialRecord(ec ErrorCredential) storage.Record {
	return storage.Record{
		"id":           ec.ID,
		"originalId":   ec.OriginalID,
		"provider":     string(ec.Provider),
		"displayName":  ec.DisplayName,
		"snapshot":     toRecord(&ec.Snapshot),
		"errorMessage": ec.ErrorMessage,
		"errorCount":   ec.ErrorCount,
		"lastErrorAt":  ec.LastErrorAt,
		"createdAt":    ec.CreatedAt,
	}
}

// NextRoundRobin returns the next index (mod n) for a provider's
// round-robin selection strategy.
func (m *Manager) NextRoundRobin(provider Provider, n int) int {
	if n <= 0 {
		return 0
	}
	m.rrMu.Lock()
	defer m.rrMu.Unlock()
	idx := m.roundRobin[provider]
	m.roundRobin[provider] = idx + 1
	return int(idx % uint64(n))
}

func toRecord(c *Credential) storage.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quota := make(map[string]QuotaEntry, len(c.Quota))
	for k, v := range c.Quota {
		quota[k] = v
	}
	return storage.Record{
		"provider":      string(c.Provider),
		"id":            c.ID,
		"displayName":   c.DisplayName,
		"accessSecret":  c.AccessSecret,
		"refreshSecret": c.RefreshSecret,
		"clientId":      c.ClientID,
		"clientSecret":  c.ClientSecret,
		"profileArn":    c.ProfileARN,
		"region":        c.Region,
		"startUrl":      c.StartURL,
		"projectId":     c.ProjectID,
		"authMethod":    c.AuthMethod,
		"expiresAt":     c.ExpiresAt,
		"active":        c.Active,
		"useCount":      c.UseCount,
		"lastUsedAt":    c.LastUsedAt,
		"errorCount":    c.ErrorCount,
		"lastErrorMessage": c.LastErrorMsg,
		"lastErrorAt":      c.LastErrorAt,
		"quota":            quota,
		"createdAt":        c.CreatedAt,
		"updatedAt":        c.UpdatedAt,
	}
}

func fromRecord(row storage.Record) (*Credential, error) {
	id, _ := row["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("row missing id")
	}
	c := &Credential{
		Provider:      Provider(asString(row["provider"])),
		ID:            id,
		DisplayName:   asString(row["displayName"]),
		AccessSecret:  asString(row["accessSecret"]),
		RefreshSecret: asString(row["refreshSecret"]),
		ClientID:      asString(row["clientId"]),
		ClientSecret:  asString(row["clientSecret"]),
		ProfileARN:    asString(row["profileArn"]),
		Region:        asString(row["region"]),
		StartURL:      asString(row["startUrl"]),
		ProjectID:     asString(row["projectId"]),
		AuthMethod:    asString(row["authMethod"]),
		Active:        asBool(row["active"]),
		UseCount:      int64(asFloat(row["useCount"])),
		ErrorCount:    int(asFloat(row["errorCount"])),
		LastErrorMsg:  asString(row["lastErrorMessage"]),
	}
	c.ExpiresAt = asTime(row["expiresAt"])
	c.LastUsedAt = asTime(row["lastUsedAt"])
	c.LastErrorAt = asTime(row["lastErrorAt"])
	c.CreatedAt = asTime(row["createdAt"])
	c.UpdatedAt = asTime(row["updatedAt"])
	if q, ok := row["quota"].(map[string]interface{}); ok {
		c.Quota = make(map[string]QuotaEntry, len(q))
		for k, raw := range q {
			if entry, ok := raw.(map[string]interface{}); ok {
				c.Quota[k] = QuotaEntry{
					RemainingFraction: asFloat(entry["remainingFraction"]),
					ResetTime:         asTime(entry["resetTime"]),
					FetchedAt:         asTime(entry["fetchedAt"]),
				}
			}
		}
	}
	return c, nil
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
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// newErrorID generates a stable id for a new ErrorCredential row.
func newErrorID() string {
	return uuid.NewString()
}
