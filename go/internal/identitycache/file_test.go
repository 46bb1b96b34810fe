package identitycache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache_RememberLookupForget(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "nested", "identity.json")
	cache := NewFileCache(path, clock)
	sessionID := uuid.New()

	got, err := cache.Lookup(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, got, "empty cache has no identity")

	require.NoError(t, cache.Remember(ctx, sessionID, "alice"))

	got, err = cache.Lookup(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sessionID, got.SessionID)
	assert.Equal(t, "alice", got.UserName)
	assert.True(t, got.JoinedAt.Equal(clock.Now()))

	name, err := cache.LastUsedName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	require.NoError(t, cache.Forget(ctx, sessionID))
	got, err = cache.Lookup(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, got)

	name, err = cache.LastUsedName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", name, "forgetting a session keeps the last used name")
}

func TestFileCache_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.json")
	first, second := uuid.New(), uuid.New()

	cache := NewFileCache(path, nil)
	require.NoError(t, cache.Remember(ctx, first, "alice"))
	require.NoError(t, cache.Remember(ctx, second, "bob"))

	reopened := NewFileCache(path, nil)
	got, err := reopened.Lookup(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserName)

	name, err := reopened.LastUsedName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}

func TestFileCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileCache(path, nil).Lookup(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "parse identity cache")
}

func TestFileCache_ForgetUnknownSessionDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, NewFileCache(path, nil).Forget(context.Background(), uuid.New()))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
