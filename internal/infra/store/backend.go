package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned by Backend.Get when the key is absent.
var ErrNil = errors.New("store: nil")

// Backend is the key-value contract the repositories are layered over.
// It mirrors the handful of redis commands the service needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, set, member string) error
	SRem(ctx context.Context, set, member string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	Close() error
}

// Transactor is implemented by backends that can commit several writes together.
// Reads are not available inside fn.
type Transactor interface {
	Atomically(ctx context.Context, fn func(tx Backend) error) error
}

// Scanner is implemented by backends that can enumerate keys by prefix.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

var errReadInTx = errors.New("store: reads are not supported inside a transaction")
