// Package redis provides a Redis-backed cache.Store so multiple SDK processes
// can share knowledge, settings and definition caches.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xiansaiplatform/sdk-go/runtime/cache"
)

const defaultKeyPrefix = "xians:cache:"

type (
	// Option configures a Store.
	Option func(*Store)

	// Store implements cache.Store over a Redis client. Expiry is delegated to
	// Redis key TTLs.
	Store struct {
		client goredis.UniversalClient
		prefix string
	}
)

var _ cache.Store = (*Store)(nil)

// WithKeyPrefix overrides the key namespace prepended to every entry.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New constructs a Store over the given Redis client. The client lifecycle
// (connection pool, close) remains with the caller.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the value stored under key, reporting absence without error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key with the given TTL. Non-positive TTLs skip the
// write since Redis would keep the entry forever.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
