package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
	"github.com/nullstack-gw/nexusgate/internal/token"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })

	cfg, err := config.NewManager("")
	require.NoError(t, err)

	credMgr := credential.NewManager(backend, false)
	tokenMgr := token.NewManager(credMgr, 10)
	keyMgr := apikey.NewManager(backend)

	return &Runner{Config: cfg, Credentials: credMgr, Tokens: tokenMgr, Keys: keyMgr}
}

func TestSweepTokenRefresh_RecordsFailureForUnknownAuthMethod(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	cred := &credential.Credential{
		Provider:  credential.ProviderKiro,
		ID:        "c1",
		Active:    true,
		ExpiresAt: time.Now().Add(-time.Minute), // already expired
	}
	require.NoError(t, r.Credentials.Add(ctx, cred))

	r.sweepTokenRefresh(ctx)

	got, ok := r.Credentials.GetByID("c1")
	require.True(t, ok)
	require.Equal(t, 1, got.ErrorCount)
}

func TestSweepTokenRefresh_SkipsCredentialsNotExpiringSoon(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	cred := &credential.Credential{
		Provider:  credential.ProviderKiro,
		ID:        "c2",
		Active:    true,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, r.Credentials.Add(ctx, cred))

	r.sweepTokenRefresh(ctx)

	got, ok := r.Credentials.GetByID("c2")
	require.True(t, ok)
	require.Equal(t, 0, got.ErrorCount)
}

func TestSweepQuota_CountsStaleEntriesWithoutError(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	cred := &credential.Credential{
		Provider: credential.ProviderGemini,
		ID:       "c3",
		Active:   true,
		Quota: map[string]credential.QuotaEntry{
			"gemini-pro": {RemainingFraction: 0.5, FetchedAt: time.Now().Add(-time.Hour)},
		},
	}
	require.NoError(t, r.Credentials.Add(ctx, cred))

	require.NotPanics(t, func() { r.sweepQuota(ctx) })
}

func TestSweepLogRetention_DeletesOnlyRowsPastTheDefaultWindow(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	old := apikey.LogRow{RequestID: "old", APIKeyID: "k1", CreatedAt: time.Now().AddDate(0, 0, -40)}
	fresh := apikey.LogRow{RequestID: "fresh", APIKeyID: "k1", CreatedAt: time.Now()}
	require.NoError(t, r.Keys.AppendLog(ctx, old))
	require.NoError(t, r.Keys.AppendLog(ctx, fresh))

	before, err := r.Keys.CountSince(ctx, "k1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(2), before)

	r.sweepLogRetention(ctx)

	after, err := r.Keys.CountSince(ctx, "k1", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), after)
}
