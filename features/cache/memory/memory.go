// Package memory provides the default in-process cache backend: an LRU bound
// on entry count with per-entry absolute expiry.
package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xiansaiplatform/sdk-go/runtime/cache"
)

const defaultMaxEntries = 1024

type (
	// Store is an in-process cache.Store backed by an LRU map. It is safe for
	// concurrent use.
	Store struct {
		lru *lru.Cache[string, entry]
	}

	// entry holds a value with its absolute expiry.
	entry struct {
		value     []byte
		expiresAt time.Time
	}
)

var _ cache.Store = (*Store)(nil)

// New constructs a Store bounded to maxEntries. Non-positive sizes fall back
// to the default bound.
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	// lru.New only errors on non-positive size which is guarded above.
	l, _ := lru.New[string, entry](maxEntries)
	return &Store{lru: l}
}

// Get returns the stored value if present and unexpired. Expired entries are
// evicted so the LRU bookkeeping stays clean.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true, nil
}

// Set stores value under key until ttl elapses. Non-positive TTLs skip the
// write since the entry would be born expired.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.lru.Add(key, entry{value: cp, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len returns the number of entries currently held, expired ones included.
func (s *Store) Len() int {
	return s.lru.Len()
}

// Purge removes all entries.
func (s *Store) Purge() {
	s.lru.Purge()
}
