package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Client() *redis.Client {
	return b.rdb
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNil
	}
	return value, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

func (b *RedisBackend) SAdd(ctx context.Context, set, member string) error {
	return b.rdb.SAdd(ctx, set, member).Err()
}

func (b *RedisBackend) SRem(ctx context.Context, set, member string) error {
	return b.rdb.SRem(ctx, set, member).Err()
}

func (b *RedisBackend) SMembers(ctx context.Context, set string) ([]string, error) {
	return b.rdb.SMembers(ctx, set).Result()
}

// Keys walks the keyspace with SCAN, never KEYS.
func (b *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Atomically queues fn's writes in a MULTI/EXEC block.
func (b *RedisBackend) Atomically(ctx context.Context, fn func(tx Backend) error) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return fn(redisTx{p: p})
	})
	return err
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

type redisTx struct {
	p redis.Pipeliner
}

func (t redisTx) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errReadInTx
}

func (t redisTx) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.p.Set(ctx, key, value, ttl)
	return nil
}

func (t redisTx) Del(ctx context.Context, key string) error {
	t.p.Del(ctx, key)
	return nil
}

func (t redisTx) SAdd(ctx context.Context, set, member string) error {
	t.p.SAdd(ctx, set, member)
	return nil
}

func (t redisTx) SRem(ctx context.Context, set, member string) error {
	t.p.SRem(ctx, set, member)
	return nil
}

func (t redisTx) SMembers(ctx context.Context, set string) ([]string, error) {
	return nil, errReadInTx
}

func (t redisTx) Close() error { return nil }

var (
	_ Backend    = (*RedisBackend)(nil)
	_ Transactor = (*RedisBackend)(nil)
	_ Scanner    = (*RedisBackend)(nil)
)
