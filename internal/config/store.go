package config

import (
	"context"
	"fmt"

	"assetauth/internal/store"
)

// OpenBackend creates the configured document store. The returned close
// function releases its connections.
func OpenBackend(ctx context.Context, cfg StoreConfig) (store.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case StoreBackendMemory:
		return store.NewMemoryBackend(), noop, nil
	case StoreBackendFile, "":
		return store.NewFileBackend(cfg.Dir), noop, nil
	case StoreBackendRedis:
		client, err := store.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		b := store.NewRedisBackend(client, cfg.Redis.KeyPrefix)
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
