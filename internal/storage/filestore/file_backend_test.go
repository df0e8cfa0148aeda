package filestore

import (
	"context"
	"testing"

	"github.com/nullstack-gw/nexusgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_InitializeCreatesBaseDir(t *testing.T) {
	dir := t.TempDir() + "/store"
	b := New(dir)
	require.NoError(t, b.Initialize(context.Background()))
	assert.DirExists(t, dir)
}

func TestBackend_InsertFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	require.NoError(t, b.Initialize(ctx))

	row := storage.Record{"id": "cred-1", "provider": "kiro", "active": true}
	require.NoError(t, b.Insert(ctx, "credentials", "cred-1", row))

	got, err := b.FindByID(ctx, "credentials", "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "kiro", got["provider"])

	err = b.Insert(ctx, "credentials", "cred-1", row)
	assert.Error(t, err, "duplicate insert must fail")

	row["active"] = false
	require.NoError(t, b.Update(ctx, "credentials", "cred-1", row))
	got, err = b.FindByID(ctx, "credentials", "cred-1")
	require.NoError(t, err)
	assert.Equal(t, false, got["active"])

	require.NoError(t, b.Delete(ctx, "credentials", "cred-1"))
	_, err = b.FindByID(ctx, "credentials", "cred-1")
	assert.Error(t, err)
	var notFound *storage.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestBackend_FindByKeyAndListWhere(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	require.NoError(t, b.Initialize(ctx))

	require.NoError(t, b.Insert(ctx, "credentials", "a", storage.Record{"provider": "kiro", "errorCount": 2.0}))
	require.NoError(t, b.Insert(ctx, "credentials", "b", storage.Record{"provider": "gemini", "errorCount": 0.0}))
	require.NoError(t, b.Insert(ctx, "credentials", "c", storage.Record{"provider": "kiro", "errorCount": 5.0}))

	found, err := b.FindByKey(ctx, "credentials", "provider", "gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", found["provider"])

	rows, err := b.ListWhere(ctx, "credentials", storage.ListOptions{
		Filters: []storage.Filter{{Field: "provider", Op: storage.OpEq, Value: "kiro"}},
		OrderBy: "errorCount",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, rows[0]["errorCount"])
	assert.Equal(t, 5.0, rows[1]["errorCount"])

	count, err := b.CountWhere(ctx, "credentials", []storage.Filter{{Field: "errorCount", Op: storage.OpGte, Value: 2.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBackend_AtomicUpsertAndIncrementField(t *testing.T) {
	ctx := context.Background()
	b := New(t.TempDir())
	require.NoError(t, b.Initialize(ctx))

	keys := map[string]interface{}{"provider": "kiro", "credentialId": "cred-1"}
	require.NoError(t, b.AtomicUpsert(ctx, "health", keys, storage.Record{"score": 70.0}))
	require.NoError(t, b.AtomicUpsert(ctx, "health", keys, storage.Record{"score": 65.0}))

	rows, err := b.ListWhere(ctx, "health", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1, "upsert on the same keys must not create a second row")
	assert.Equal(t, 65.0, rows[0]["score"])

	id := upsertID(keys)
	v, err := b.IncrementField(ctx, "health", id, "consecutiveFailures", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	v, err = b.IncrementField(ctx, "health", id, "consecutiveFailures", 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestBackend_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1 := New(dir)
	require.NoError(t, b1.Initialize(ctx))
	require.NoError(t, b1.Insert(ctx, "api_keys", "key-1", storage.Record{"keyHash": "abc", "active": true}))
	require.NoError(t, b1.Close())

	b2 := New(dir)
	require.NoError(t, b2.Initialize(ctx))
	got, err := b2.FindByID(ctx, "api_keys", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got["keyHash"])
}
