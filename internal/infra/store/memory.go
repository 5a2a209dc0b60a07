package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend keeps everything in process. Expiry is handled by go-cache.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

type memorySet map[string]struct{}

func (b *MemoryBackend) get(key string) ([]byte, error) {
	x, found := b.cache.Get(key)
	if !found {
		return nil, ErrNil
	}
	value, ok := x.([]byte)
	if !ok {
		return nil, ErrNil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (b *MemoryBackend) set(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	b.cache.Set(key, stored, ttl)
}

func (b *MemoryBackend) members(set string) memorySet {
	x, found := b.cache.Get(set)
	if !found {
		return nil
	}
	m, _ := x.(memorySet)
	return m
}

func (b *MemoryBackend) sadd(set, member string) {
	m := b.members(set)
	if m == nil {
		m = memorySet{}
		b.cache.Set(set, m, cache.NoExpiration)
	}
	m[member] = struct{}{}
}

func (b *MemoryBackend) srem(set, member string) {
	m := b.members(set)
	if m == nil {
		return
	}
	delete(m, member)
	if len(m) == 0 {
		b.cache.Delete(set)
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(key)
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(key, value, ttl)
	return nil
}

func (b *MemoryBackend) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Delete(key)
	return nil
}

func (b *MemoryBackend) SAdd(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sadd(set, member)
	return nil
}

func (b *MemoryBackend) SRem(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srem(set, member)
	return nil
}

func (b *MemoryBackend) SMembers(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.members(set)
	out := make([]string, 0, len(m))
	for member := range m {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (b *MemoryBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for key, item := range b.cache.Items() {
		if _, isSet := item.Object.(memorySet); isSet {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Atomically holds the backend lock for the whole of fn.
func (b *MemoryBackend) Atomically(ctx context.Context, fn func(tx Backend) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(memoryTx{b: b})
}

func (b *MemoryBackend) Close() error {
	b.cache.Flush()
	return nil
}

type memoryTx struct {
	b *MemoryBackend
}

func (t memoryTx) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errReadInTx
}

func (t memoryTx) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.b.set(key, value, ttl)
	return nil
}

func (t memoryTx) Del(ctx context.Context, key string) error {
	t.b.cache.Delete(key)
	return nil
}

func (t memoryTx) SAdd(ctx context.Context, set, member string) error {
	t.b.sadd(set, member)
	return nil
}

func (t memoryTx) SRem(ctx context.Context, set, member string) error {
	t.b.srem(set, member)
	return nil
}

func (t memoryTx) SMembers(ctx context.Context, set string) ([]string, error) {
	return nil, errReadInTx
}

func (t memoryTx) Close() error { return nil }

var (
	_ Backend    = (*MemoryBackend)(nil)
	_ Transactor = (*MemoryBackend)(nil)
	_ Scanner    = (*MemoryBackend)(nil)
)
