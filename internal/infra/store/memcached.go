package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const maxCASAttempts = 16

// MemcachedBackend stores membership sets as JSON arrays updated with compare-and-swap.
// memcached cannot enumerate keys, so Reconcile is unavailable on it.
type MemcachedBackend struct {
	mc *memcache.Client
}

func NewMemcachedBackend(mc *memcache.Client) *MemcachedBackend {
	return &MemcachedBackend{mc: mc}
}

func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int32(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}

func (b *MemcachedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := b.mc.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrNil
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (b *MemcachedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.mc.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expiration(ttl),
	})
}

func (b *MemcachedBackend) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.mc.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

func decodeMembers(raw []byte) (map[string]struct{}, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	members := make(map[string]struct{}, len(list))
	for _, m := range list {
		members[m] = struct{}{}
	}
	return members, nil
}

func encodeMembers(members map[string]struct{}) []byte {
	list := make([]string, 0, len(members))
	for m := range members {
		list = append(list, m)
	}
	sort.Strings(list)
	b, _ := json.Marshal(list)
	return b
}

// updateSet applies fn under CAS; fn reports whether it changed anything.
func (b *MemcachedBackend) updateSet(ctx context.Context, set string, fn func(map[string]struct{}) bool) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := b.mc.Get(set)
		if errors.Is(err, memcache.ErrCacheMiss) {
			members := map[string]struct{}{}
			if !fn(members) {
				return nil
			}
			err = b.mc.Add(&memcache.Item{Key: set, Value: encodeMembers(members)})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		members, err := decodeMembers(item.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", set, err)
		}
		if !fn(members) {
			return nil
		}
		item.Value = encodeMembers(members)
		err = b.mc.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return err
	}
	return fmt.Errorf("set %s: too many concurrent updates", set)
}

func (b *MemcachedBackend) SAdd(ctx context.Context, set, member string) error {
	return b.updateSet(ctx, set, func(m map[string]struct{}) bool {
		if _, ok := m[member]; ok {
			return false
		}
		m[member] = struct{}{}
		return true
	})
}

func (b *MemcachedBackend) SRem(ctx context.Context, set, member string) error {
	return b.updateSet(ctx, set, func(m map[string]struct{}) bool {
		if _, ok := m[member]; !ok {
			return false
		}
		delete(m, member)
		return true
	})
}

func (b *MemcachedBackend) SMembers(ctx context.Context, set string) ([]string, error) {
	raw, err := b.Get(ctx, set)
	if errors.Is(err, ErrNil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("set %s: %w", set, err)
	}
	return list, nil
}

func (b *MemcachedBackend) Close() error {
	return b.mc.Close()
}

var _ Backend = (*MemcachedBackend)(nil)
