package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// QueryCacheStore caches serialized query responses under stable keys.
// Implementations are best effort: a failing or absent backend must never
// turn a cacheable read into an error.
type QueryCacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// BuildCacheKey assembles "prefix:namespace:endpoint[:k=v[:k=v...]]" with
// parameters in sorted key order, so the same query always maps to the same
// key regardless of argument order.
func BuildCacheKey(prefix, namespace, endpoint string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(endpoint)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(':')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(params[k])
		}
	}
	return b.String()
}

// NamespacePattern returns the glob that matches every key in a namespace.
func NamespacePattern(prefix, namespace string) string {
	return prefix + ":" + namespace + "*"
}

type NoopQueryCacheStore struct{}

func NewNoopQueryCacheStore() *NoopQueryCacheStore {
	return &NoopQueryCacheStore{}
}

func (s *NoopQueryCacheStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *NoopQueryCacheStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (s *NoopQueryCacheStore) InvalidatePattern(context.Context, string) error {
	return nil
}

type inMemoryCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

type InMemoryQueryCacheStore struct {
	mu    sync.RWMutex
	store map[string]inMemoryCacheEntry
}

func NewInMemoryQueryCacheStore() *InMemoryQueryCacheStore {
	return &InMemoryQueryCacheStore{
		store: make(map[string]inMemoryCacheEntry),
	}
}

func (s *InMemoryQueryCacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		if current, ok := s.store[key]; ok && now.After(current.expiresAt) {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	payload := make([]byte, len(entry.payload))
	copy(payload, entry.payload)
	return payload, true, nil
}

func (s *InMemoryQueryCacheStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = inMemoryCacheEntry{
		payload:   stored,
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryQueryCacheStore) InvalidatePattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	s.mu.Lock()
	defer s.mu.Unlock()
	if prefix == pattern {
		delete(s.store, pattern)
		return nil
	}
	for key := range s.store {
		if strings.HasPrefix(key, prefix) {
			delete(s.store, key)
		}
	}
	return nil
}
