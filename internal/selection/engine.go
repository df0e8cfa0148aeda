// Package selection implements the Selection Engine (C5): hybrid weighted,
// sticky, and round-robin strategies for picking a credential out of C2's
// active pool for one provider, using live signals from C4. Grounded on
// the teacher's internal/upstream/strategy package (sticky-first-then-
// weighted-pick shape, TTL sticky map, header-derived fingerprint), fully
// generalized from its P2C sampling to a full weighted sum over every
// active candidate per §4.4.
package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/health"
)

// ErrUnavailable is returned when no active, healthy credential exists for
// a provider.
var ErrUnavailable = errors.New("selection: no available credential")

type stickyEntry struct {
	credentialID string
	expiresAt    time.Time
}

// Engine picks a credential per call, using the active SelectionConfig's
// strategy.
type Engine struct {
	credentials *credential.Manager
	health      *health.Manager

	mu     sync.Mutex
	sticky map[string]stickyEntry
	rr     map[credential.Provider]int
}

// NewEngine constructs an Engine over creds/healthMgr.
func NewEngine(creds *credential.Manager, healthMgr *health.Manager) *Engine {
	return &Engine{
		credentials: creds,
		health:      healthMgr,
		sticky:      make(map[string]stickyEntry),
		rr:          make(map[credential.Provider]int),
	}
}

// FingerprintSource names which request signal was used for the sticky
// key, surfaced for the gateway's routing debug log.
type FingerprintSource string

const (
	SourceSession FingerprintSource = "session"
	SourceAuth    FingerprintSource = "auth"
	SourceIP      FingerprintSource = "ip"
	SourceNone    FingerprintSource = ""
)

// stickyFingerprint derives the sticky-session key per the Open Question
// (b) policy resolved in DESIGN.md: an explicit X-Session-ID always wins;
// otherwise Gemini-family providers stick on client IP (matching upstream
// per-IP quota semantics) while Claude-style surfaces stick on the bearer
// API key (stable across NAT/proxy IP churn).
func stickyFingerprint(provider credential.Provider, hdr http.Header, clientIP string) (string, FingerprintSource) {
	if hdr != nil {
		if v := strings.TrimSpace(hdr.Get("X-Session-ID")); v != "" {
			return hashFingerprint(v), SourceSession
		}
	}
	switch provider {
	case credential.ProviderGemini, credential.ProviderVertex:
		if clientIP != "" {
			return hashFingerprint(clientIP), SourceIP
		}
	}
	if hdr != nil {
		auth := strings.TrimSpace(hdr.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token := strings.TrimSpace(auth[len("bearer "):])
			if token != "" {
				return hashFingerprint(token), SourceAuth
			}
		}
	}
	return "", SourceNone
}

func hashFingerprint(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// Pick selects one active credential for provider per selCfg's strategy.
func (e *Engine) Pick(provider credential.Provider, selCfg config.SelectionConfig, hdr http.Header, clientIP string) (*credential.Credential, error) {
	candidates := e.candidates(provider, selCfg, true)
	if len(candidates) == 0 {
		// §4.4: relax the health filter to the full active pool (still
		// honoring errorCount/projectId) before giving up.
		candidates = e.candidates(provider, selCfg, false)
	}
	if len(candidates) == 0 {
		return nil, ErrUnavailable
	}

	switch selCfg.Strategy {
	case "round_robin":
		return e.pickRoundRobin(provider, candidates), nil
	case "sticky":
		if cred := e.pickSticky(provider, hdr, clientIP, candidates); cred != nil {
			return cred, nil
		}
		return e.pickHybrid(provider, selCfg, hdr, clientIP, candidates), nil
	default: // "hybrid"
		return e.pickHybrid(provider, selCfg, hdr, clientIP, candidates), nil
	}
}

// candidates returns active credentials for provider passing §4.4's
// candidate filter: errorCount below the quarantine threshold, a
// populated ProjectID for Gemini-family providers, and — when
// requireHealth is true — a health score clearing MinHealthThreshold.
// requireHealth is false for the fallback pass, which relaxes the health
// filter to the full active pool once no credential clears it.
func (e *Engine) candidates(provider credential.Provider, selCfg config.SelectionConfig, requireHealth bool) []*credential.Credential {
	active := e.credentials.ListActive(provider)
	out := make([]*credential.Credential, 0, len(active))
	for _, c := range active {
		if c.ErrorCount >= selCfg.QuarantineThreshold {
			continue
		}
		switch provider {
		case credential.ProviderGemini, credential.ProviderVertex:
			if c.ProjectID == "" {
				continue
			}
		}
		if requireHealth && e.health.GetScore(string(provider), c.ID) < selCfg.MinHealthThreshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) pickRoundRobin(provider credential.Provider, candidates []*credential.Credential) *credential.Credential {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	idx := e.credentials.NextRoundRobin(provider, len(candidates))
	return candidates[idx]
}

func (e *Engine) pickSticky(provider credential.Provider, hdr http.Header, clientIP string, candidates []*credential.Credential) *credential.Credential {
	key, _ := stickyFingerprint(provider, hdr, clientIP)
	if key == "" {
		return nil
	}
	e.mu.Lock()
	entry, ok := e.sticky[key]
	if ok && time.Now().After(entry.expiresAt) {
		delete(e.sticky, key)
		ok = false
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	for _, c := range candidates {
		if c.ID == entry.credentialID {
			return c
		}
	}
	return nil
}

func (e *Engine) setSticky(provider credential.Provider, selCfg config.SelectionConfig, hdr http.Header, clientIP string, credID string) {
	key, _ := stickyFingerprint(provider, hdr, clientIP)
	if key == "" {
		return
	}
	ttl := time.Duration(selCfg.StickyWindowSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	e.mu.Lock()
	e.sticky[key] = stickyEntry{credentialID: credID, expiresAt: time.Now().Add(ttl)}
	e.mu.Unlock()
}

// pickHybrid computes the §4.4 weighted score over every candidate and
// returns the highest, tie-breaking on lower errorCount then lower
// lastUsedAt (older = more due for rotation).
func (e *Engine) pickHybrid(provider credential.Provider, selCfg config.SelectionConfig, hdr http.Header, clientIP string, candidates []*credential.Credential) *credential.Credential {
	now := time.Now()
	var best *credential.Credential
	var bestScore float64

	for _, c := range candidates {
		score := e.score(provider, c, selCfg, now)
		if best == nil || score > bestScore ||
			(score == bestScore && isBetterTiebreak(c, best)) {
			best = c
			bestScore = score
		}
	}
	if best != nil && selCfg.Strategy == "sticky" {
		e.setSticky(provider, selCfg, hdr, clientIP, best.ID)
	}
	return best
}

func isBetterTiebreak(candidate, current *credential.Credential) bool {
	if candidate.ErrorCount != current.ErrorCount {
		return candidate.ErrorCount < current.ErrorCount
	}
	return candidate.LastUsedAt.Before(current.LastUsedAt)
}

// score implements §4.4's exact formula:
//
//	score = healthWeight·(health/100) + tokenWeight·(bucketTokens/max)
//	      + quotaWeight·quotaSignal + lruWeight·recencyBoost
func (e *Engine) score(provider credential.Provider, c *credential.Credential, selCfg config.SelectionConfig, now time.Time) float64 {
	healthScore := e.health.GetScore(string(provider), c.ID)
	tokens := e.health.PeekTokens(string(provider), c.ID)
	max := selCfg.TokenBucketMax
	if max <= 0 {
		max = 1
	}

	quotaSignal := quotaSignalFor(c, selCfg, now)
	recencyBoost := recencyBoostFor(c, selCfg, now)

	return selCfg.HealthWeight*(healthScore/100.0) +
		selCfg.TokenWeight*(tokens/max) +
		selCfg.QuotaWeight*quotaSignal +
		selCfg.LRUWeight*recencyBoost
}

func quotaSignalFor(c *credential.Credential, selCfg config.SelectionConfig, now time.Time) float64 {
	if len(c.Quota) == 0 {
		return health.QuotaSignalNeutral
	}
	ttl := time.Duration(selCfg.QuotaTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	// Use the lowest remaining fraction across tracked models as the
	// conservative signal for this credential. A snapshot older than ttl
	// is stale and must not feed its RemainingFraction into the score.
	lowest := 1.0
	fresh := false
	for _, entry := range c.Quota {
		if entry.FetchedAt.IsZero() || now.Sub(entry.FetchedAt) > ttl {
			continue
		}
		fresh = true
		if entry.RemainingFraction < lowest {
			lowest = entry.RemainingFraction
		}
	}
	return health.QuotaSignal(lowest, fresh, selCfg.QuotaLowThreshold, selCfg.QuotaCriticalThresh)
}

func recencyBoostFor(c *credential.Credential, selCfg config.SelectionConfig, now time.Time) float64 {
	window := time.Duration(selCfg.RecencyWindowSeconds) * time.Second
	if window <= 0 {
		window = 10 * time.Minute
	}
	if c.LastUsedAt.IsZero() {
		return 1.0
	}
	elapsed := now.Sub(c.LastUsedAt)
	if elapsed <= 0 {
		return 0
	}
	boost := elapsed.Seconds() / window.Seconds()
	if boost > 1 {
		boost = 1
	}
	return boost
}
