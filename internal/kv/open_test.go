package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paltabrain/sdk/internal/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.Config{Storage: config.StorageMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	mr := miniredis.RunT(t)
	store, err = Open(ctx, config.Config{Storage: "Redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Set(ctx, "k", 1))
	assert.True(t, mr.Exists(redisKeyPrefix+"k"))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Storage: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}
