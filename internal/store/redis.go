package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"assetauth/pkg/logging"
)

// DefaultRedisKeyPrefix namespaces asset documents in Redis.
const DefaultRedisKeyPrefix = "assetauth:asset:"

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	PoolSize  int    `yaml:"poolSize,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisBackend stores one document per asset under <prefix><asset id>.
//
// Writes are guarded with WATCH: PutAll fails with ErrConflict when the key no
// longer holds the value this store last read or wrote. Every successful write
// is published on <prefix>changed:<asset id> for Watch subscribers.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend on an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(assetID string) string {
	return b.prefix + assetID
}

func (b *RedisBackend) channel(assetID string) string {
	return b.prefix + "changed:" + assetID
}

// ForAsset returns the store for assetID.
func (b *RedisBackend) ForAsset(assetID string) AssetStore {
	return &redisStore{backend: b, assetID: assetID}
}

// Watch subscribes to change notifications for assetID.
func (b *RedisBackend) Watch(ctx context.Context, assetID string) (<-chan struct{}, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(assetID))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

type redisStore struct {
	backend *RedisBackend
	assetID string

	mu       sync.Mutex
	cache    Document
	version  []byte
	observed bool
}

func (s *redisStore) GetAll(ctx context.Context, forceReload bool) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.observed && !forceReload {
		return s.cache.Clone(), nil
	}

	data, err := s.backend.client.Get(ctx, s.backend.key(s.assetID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read document for asset %s: %w", s.assetID, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	s.cache = doc
	s.version = data
	s.observed = true
	return doc.Clone(), nil
}

func (s *redisStore) PutAll(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.backend.key(s.assetID)
	err = s.backend.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if s.observed && !bytes.Equal(current, s.version) {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		// Force the next GetAll to observe the winning write.
		s.observed = false
		logging.Warn("Store", "Concurrent write detected for asset %s", s.assetID)
		return fmt.Errorf("asset %s: %w", s.assetID, ErrConflict)
	case err != nil:
		return fmt.Errorf("failed to write document for asset %s: %w", s.assetID, err)
	}

	s.cache = doc.Clone()
	s.version = data
	s.observed = true

	if err := s.backend.client.Publish(ctx, s.backend.channel(s.assetID), "changed").Err(); err != nil {
		logging.Warn("Store", "Failed to publish change for asset %s: %v", s.assetID, err)
	}
	return nil
}
