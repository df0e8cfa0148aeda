package selection

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/health"
	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
)

func newTestEngine(t *testing.T) (*Engine, *credential.Manager, *health.Manager) {
	t.Helper()
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })

	creds := credential.NewManager(backend, false)
	healthMgr := health.NewManager(backend, 50, 6)
	return NewEngine(creds, healthMgr), creds, healthMgr
}

func TestEngine_PickReturnsErrUnavailableWhenNoCandidates(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Pick(credential.ProviderKiro, config.DefaultSelectionConfig(), nil, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEngine_PickHybridFavorsHigherHealth(t *testing.T) {
	engine, creds, healthMgr := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "weak", Active: true}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "strong", Active: true}))

	// Drag "weak" down and boost "strong" up.
	_, err := healthMgr.RecordFailure(ctx, "kiro", "weak")
	require.NoError(t, err)
	_, err = healthMgr.RecordSuccess(ctx, "kiro", "strong")
	require.NoError(t, err)

	selCfg := config.DefaultSelectionConfig()
	picked, err := engine.Pick(credential.ProviderKiro, selCfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "strong", picked.ID)
}

func TestEngine_PickFiltersBelowMinHealthThreshold(t *testing.T) {
	engine, creds, healthMgr := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "quarantined", Active: true}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "healthy", Active: true}))
	for i := 0; i < 5; i++ {
		_, err := healthMgr.RecordFailure(ctx, "kiro", "quarantined")
		require.NoError(t, err)
	}

	selCfg := config.DefaultSelectionConfig()
	picked, err := engine.Pick(credential.ProviderKiro, selCfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "healthy", picked.ID)
}

func TestEngine_RoundRobinCyclesThroughCandidates(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderWarp, ID: "a", Active: true}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderWarp, ID: "b", Active: true}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.Strategy = "round_robin"

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		picked, err := engine.Pick(credential.ProviderWarp, selCfg, nil, "")
		require.NoError(t, err)
		seen[picked.ID]++
	}
	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
}

func TestEngine_StickySessionIDPinsToSameCredential(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderAnthropic, ID: "a", Active: true}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderAnthropic, ID: "b", Active: true}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.Strategy = "sticky"
	hdr := http.Header{"X-Session-Id": []string{"session-123"}}

	first, err := engine.Pick(credential.ProviderAnthropic, selCfg, hdr, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Pick(credential.ProviderAnthropic, selCfg, hdr, "")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestEngine_StickyExpiresAfterWindow(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderAnthropic, ID: "a", Active: true}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.Strategy = "sticky"
	selCfg.StickyWindowSeconds = 1
	hdr := http.Header{"X-Session-Id": []string{"short-lived"}}

	_, err := engine.Pick(credential.ProviderAnthropic, selCfg, hdr, "")
	require.NoError(t, err)

	engine.mu.Lock()
	for k, v := range engine.sticky {
		v.expiresAt = time.Now().Add(-time.Second)
		engine.sticky[k] = v
	}
	engine.mu.Unlock()

	// Sticky entry is now expired; pick must still succeed via hybrid fallback.
	_, err = engine.Pick(credential.ProviderAnthropic, selCfg, hdr, "")
	require.NoError(t, err)
}

func TestEngine_PickExcludesCredentialsAtOrAboveQuarantineThreshold(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "over", Active: true, ErrorCount: 10}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "ok", Active: true, ErrorCount: 1}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.QuarantineThreshold = 10

	for i := 0; i < 5; i++ {
		picked, err := engine.Pick(credential.ProviderKiro, selCfg, nil, "")
		require.NoError(t, err)
		assert.Equal(t, "ok", picked.ID)
	}
}

func TestEngine_PickExcludesGeminiCredentialsMissingProjectID(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderGemini, ID: "no-project", Active: true}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderGemini, ID: "has-project", Active: true, ProjectID: "proj-1"}))

	selCfg := config.DefaultSelectionConfig()
	for i := 0; i < 5; i++ {
		picked, err := engine.Pick(credential.ProviderGemini, selCfg, nil, "")
		require.NoError(t, err)
		assert.Equal(t, "has-project", picked.ID)
	}
}

func TestEngine_PickRelaxesHealthFilterWhenAllCandidatesUnhealthy(t *testing.T) {
	engine, creds, healthMgr := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "unhealthy", Active: true}))
	for i := 0; i < 5; i++ {
		_, err := healthMgr.RecordFailure(ctx, "kiro", "unhealthy")
		require.NoError(t, err)
	}

	selCfg := config.DefaultSelectionConfig()
	picked, err := engine.Pick(credential.ProviderKiro, selCfg, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", picked.ID)
}

func TestEngine_PickReturnsUnavailableWhenRelaxedFilterAlsoFails(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "quarantined", Active: true, ErrorCount: 10}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.QuarantineThreshold = 10
	_, err := engine.Pick(credential.ProviderKiro, selCfg, nil, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQuotaSignalFor_StaleEntryTreatedAsNeutral(t *testing.T) {
	selCfg := config.DefaultSelectionConfig()
	selCfg.QuotaTTLSeconds = 300
	now := time.Now()

	stale := &credential.Credential{Quota: map[string]credential.QuotaEntry{
		"model-a": {RemainingFraction: 0.01, FetchedAt: now.Add(-time.Hour)},
	}}
	assert.Equal(t, health.QuotaSignalNeutral, quotaSignalFor(stale, selCfg, now))

	fresh := &credential.Credential{Quota: map[string]credential.QuotaEntry{
		"model-a": {RemainingFraction: 0.01, FetchedAt: now.Add(-time.Minute)},
	}}
	assert.Equal(t, health.QuotaSignalCritical, quotaSignalFor(fresh, selCfg, now))
}

func TestEngine_GeminiStickiesOnClientIPNotSessionAbsence(t *testing.T) {
	engine, creds, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderGemini, ID: "a", Active: true, ProjectID: "proj-a"}))
	require.NoError(t, creds.Add(ctx, &credential.Credential{Provider: credential.ProviderGemini, ID: "b", Active: true, ProjectID: "proj-b"}))

	selCfg := config.DefaultSelectionConfig()
	selCfg.Strategy = "sticky"

	first, err := engine.Pick(credential.ProviderGemini, selCfg, nil, "203.0.113.5")
	require.NoError(t, err)
	again, err := engine.Pick(credential.ProviderGemini, selCfg, nil, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}
