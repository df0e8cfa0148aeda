package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })
	return NewManager(backend)
}

func TestManager_CreateAndAuthenticate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	k, err := m.Create(ctx, "user1", "my key", Limits{Daily: 10, Concurrent: 2})
	require.NoError(t, err)
	require.NotEmpty(t, k.KeyValue)

	found, err := m.Authenticate(ctx, k.KeyValue)
	require.NoError(t, err)
	assert.Equal(t, k.ID, found.ID)
	assert.True(t, found.Active)
	assert.Equal(t, 10, found.Limits.Daily)

	_, err = m.Authenticate(ctx, "wrong-secret")
	assert.Error(t, err)
}

func TestKey_EffectiveExpiry(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k := Key{CreatedAt: created, Limits: Limits{ExpiresInDays: 30}}
	assert.Equal(t, created.AddDate(0, 0, 30), k.EffectiveExpiry())
	assert.False(t, k.IsExpired(created.AddDate(0, 0, 29)))
	assert.True(t, k.IsExpired(created.AddDate(0, 0, 31)))

	noExpiry := Key{CreatedAt: created}
	assert.True(t, noExpiry.EffectiveExpiry().IsZero())
	assert.False(t, noExpiry.IsExpired(created.AddDate(10, 0, 0)))
}

func TestManager_ToggleActiveAndDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	k, err := m.Create(ctx, "user1", "key", Limits{})
	require.NoError(t, err)

	require.NoError(t, m.ToggleActive(ctx, k.ID, false))
	found, err := m.GetByID(ctx, k.ID)
	require.NoError(t, err)
	assert.False(t, found.Active)

	require.NoError(t, m.Delete(ctx, k.ID))
	_, err = m.GetByID(ctx, k.ID)
	assert.Error(t, err)
}

func TestManager_CountSinceRollingWindow(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	k, err := m.Create(ctx, "user1", "key", Limits{})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, m.AppendLog(ctx, LogRow{APIKeyID: k.ID, Model: "x", CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, m.AppendLog(ctx, LogRow{APIKeyID: k.ID, Model: "x", CreatedAt: now.Add(-48 * time.Hour)}))

	count, err := m.CountSince(ctx, k.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = m.CountSince(ctx, k.ID, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestManager_AcquireEnforcesConcurrencyLimit(t *testing.T) {
	m := newTestManager(t)

	release1, ok := m.Acquire("key1", 2)
	require.True(t, ok)
	release2, ok := m.Acquire("key1", 2)
	require.True(t, ok)
	_, ok = m.Acquire("key1", 2)
	assert.False(t, ok)

	release1()
	_, ok = m.Acquire("key1", 2)
	assert.True(t, ok)
	release2()
}

func TestManager_AcquireUnlimitedWhenMaxZero(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 100; i++ {
		_, ok := m.Acquire("key2", 0)
		require.True(t, ok)
	}
}
