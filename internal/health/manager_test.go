package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })
	return NewManager(backend, 50, 6)
}

func TestManager_NewCredentialStartsAtBaseline(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, BaselineScore, m.GetScore("kiro", "c1"))
}

func TestManager_RecordSuccessAndFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	score, err := m.RecordSuccess(ctx, "kiro", "c1")
	require.NoError(t, err)
	assert.Equal(t, BaselineScore+SuccessDelta, score)

	score, err = m.RecordFailure(ctx, "kiro", "c1")
	require.NoError(t, err)
	assert.Equal(t, BaselineScore+SuccessDelta+FailureDelta, score)
	assert.Equal(t, 1, m.ConsecutiveFailures("kiro", "c1"))

	score, err = m.RecordSuccess(ctx, "kiro", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, m.ConsecutiveFailures("kiro", "c1"))
	_ = score
}

func TestManager_ScoreClampsToRange(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := m.RecordFailure(ctx, "kiro", "c2")
		require.NoError(t, err)
	}
	assert.Equal(t, MinScore, m.GetScore("kiro", "c2"))

	for i := 0; i < 100; i++ {
		_, err := m.RecordSuccess(ctx, "kiro", "c2")
		require.NoError(t, err)
	}
	assert.Equal(t, MaxScore, m.GetScore("kiro", "c2"))
}

func TestManager_TokenBucketConsumeAndRefund(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ok, remaining, err := m.ConsumeToken(ctx, "gemini", "g1", 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(40), remaining)

	ok, remaining, err = m.ConsumeToken(ctx, "gemini", "g1", 1000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(40), remaining, 0.01) // lazy regen adds a sliver for the elapsed time

	require.NoError(t, m.RefundToken(ctx, "gemini", "g1", 100))
	assert.Equal(t, float64(50), m.PeekTokens("gemini", "g1"))
}

func TestQuotaSignal_Bands(t *testing.T) {
	assert.Equal(t, QuotaSignalNeutral, QuotaSignal(0.9, false, 0.2, 0.05))
	assert.Equal(t, QuotaSignalHealthy, QuotaSignal(0.9, true, 0.2, 0.05))
	assert.Equal(t, QuotaSignalLow, QuotaSignal(0.15, true, 0.2, 0.05))
	assert.Equal(t, QuotaSignalCritical, QuotaSignal(0.01, true, 0.2, 0.05))
}
