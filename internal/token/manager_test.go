package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
)

func newTestSetup(t *testing.T) (*Manager, *credential.Manager) {
	t.Helper()
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })

	creds := credential.NewManager(backend, false)
	mgr := NewManager(creds, 3)
	return mgr, creds
}

func TestManager_IsExpiringSoon(t *testing.T) {
	mgr, _ := newTestSetup(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }

	assert.True(t, mgr.IsExpiringSoon(fixed.Add(4*time.Minute), 5*time.Minute))
	assert.True(t, mgr.IsExpiringSoon(fixed, 5*time.Minute))
	assert.False(t, mgr.IsExpiringSoon(fixed.Add(10*time.Minute), 5*time.Minute))
	assert.False(t, mgr.IsExpiringSoon(time.Time{}, 5*time.Minute))
}

func TestManager_RefreshOIDC_BuilderID(t *testing.T) {
	mgr, creds := newTestSetup(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh_token", body["grantType"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":3600}`))
	}))
	defer srv.Close()
	endpointTemplates[MethodBuilderID] = srv.URL

	cred := &credential.Credential{
		Provider: credential.ProviderKiro, ID: "c1", AuthMethod: string(MethodBuilderID),
		RefreshSecret: "old-refresh", ClientID: "cid", ClientSecret: "csecret", Active: true,
	}
	require.NoError(t, creds.Add(ctx, cred))

	require.NoError(t, mgr.Refresh(ctx, cred))

	got, ok := creds.GetByID("c1")
	require.True(t, ok)
	assert.Equal(t, "new-access", got.AccessSecret)
	assert.Equal(t, "new-refresh", got.RefreshSecret)
	assert.True(t, got.ExpiresAt.After(time.Now()))
}

func TestManager_RefreshFailure_RecordsErrorAndQuarantinesAtThreshold(t *testing.T) {
	mgr, creds := newTestSetup(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()
	endpointTemplates[MethodGoogle] = srv.URL

	cred := &credential.Credential{
		Provider: credential.ProviderGemini, ID: "g1", AuthMethod: string(MethodGoogle),
		RefreshSecret: "bad-refresh", ClientID: "cid", ClientSecret: "csecret", Active: true,
	}
	require.NoError(t, creds.Add(ctx, cred))

	for i := 0; i < 2; i++ {
		err := mgr.Refresh(ctx, cred)
		require.Error(t, err)
	}
	got, _ := creds.GetByID("g1")
	assert.True(t, got.Active, "should not yet be quarantined below threshold")

	err := mgr.Refresh(ctx, cred)
	require.Error(t, err)
	got, _ = creds.GetByID("g1")
	assert.False(t, got.Active, "should be quarantined once errorCount reaches threshold")
}

func TestManager_EnsureValid_SkipsWhenNotExpiring(t *testing.T) {
	mgr, creds := newTestSetup(t)
	ctx := context.Background()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"access_token":"x","expires_in":3600}`))
	}))
	defer srv.Close()
	endpointTemplates[MethodGoogle] = srv.URL

	cred := &credential.Credential{
		Provider: credential.ProviderGemini, ID: "g2", AuthMethod: string(MethodGoogle),
		RefreshSecret: "r", ExpiresAt: time.Now().Add(time.Hour), Active: true,
	}
	require.NoError(t, creds.Add(ctx, cred))

	require.NoError(t, mgr.EnsureValid(ctx, cred, 5*time.Minute))
	assert.Equal(t, 0, calls)
}
