package kv

import (
	"context"
	"fmt"
	"strings"

	"paltabrain/sdk/internal/config"
)

const redisKeyPrefix = "paltabrain:"

// Open returns the store selected by cfg.Storage.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "", config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageRedis:
		store, err := NewRedisStore(cfg.RedisAddr, redisKeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	case config.StoragePostgres:
		store, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}
