package kv

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"storefront/internal/repository"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore はプロセス内のLRU。Redisが無い開発環境・テスト用。
type MemoryStore struct {
	// Update を Get/Set と混ぜないためのロック
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

var _ repository.KeyValueStore = (*MemoryStore)(nil)

// size はキー数の上限
func NewMemoryStore(size int) (*MemoryStore, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru cache")
	}
	return &MemoryStore{cache: c, now: time.Now}, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(cur string, found bool) (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.get(key)
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	if next == "" {
		s.cache.Remove(key)
		return nil
	}
	s.set(key, next, ttl)
	return nil
}

func (s *MemoryStore) get(key string) (string, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	e := v.(memoryEntry)

	//期限切れは無かったことにする
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.cache.Remove(key)
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) set(key string, value string, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, e)
}
