package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

var tracer = otel.Tracer("store")

const defaultTimeout = 3 * time.Second

type Options struct {
	// Timeout bounds every backend round trip.
	Timeout time.Duration
	// AtomicIndex commits primary and index writes together when the backend is a Transactor.
	// Otherwise both writes are fired concurrently and an index failure is only logged.
	AtomicIndex bool
}

// Store is shared by every repository and owns the backend.
type Store struct {
	backend Backend
	opts    Options
	drift   atomic.Int64
}

func New(backend Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Store{backend: backend, opts: opts}
}

func (s *Store) Backend() Backend {
	return s.backend
}

// IndexFailures counts membership-set writes that failed without being surfaced.
func (s *Store) IndexFailures() int64 {
	return s.drift.Load()
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) transactor() (Transactor, bool) {
	if !s.opts.AtomicIndex {
		return nil, false
	}
	tx, ok := s.backend.(Transactor)
	return tx, ok
}

// do runs fn under the configured timeout and maps failures onto the domain taxonomy.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil || errors.Is(err, ErrNil) {
		return err
	}
	if isTimeout(ctx, err) {
		return errors.Wrap(domain.ErrTimeout, err.Error())
	}
	return errors.Wrap(domain.ErrStoreUnavailable, err.Error())
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Store) indexFailed(ctx context.Context, op, set, item string, err error) {
	s.drift.Add(1)
	slog.WarnContext(
		ctx, "secondary index write failed",
		slog.String("op", op),
		slog.String("set", set),
		slog.String("item", item),
		slog.String("error", err.Error()),
		slog.String("module", "store"),
	)
}

// Key is the primary key of an entity.
func Key(prefix, id string) string {
	return prefix + ":" + id
}

// SetKey is the membership set of a collection.
func SetKey(prefix string) string {
	return prefix + "s"
}

type repoConfig struct {
	itemID func(item string) string
}

type RepositoryOption func(*repoConfig)

// WithItemID tells Reconcile how to recover an id from a list item.
// By default the list item is the id.
func WithItemID(fn func(item string) string) RepositoryOption {
	return func(c *repoConfig) {
		c.itemID = fn
	}
}

// Repository is the keyed store for one entity type.
type Repository[T domain.Entity] struct {
	store  *Store
	prefix string
	itemID func(string) string
}

func NewRepository[T domain.Entity](s *Store, opts ...RepositoryOption) *Repository[T] {
	conf := repoConfig{itemID: func(item string) string { return item }}
	for _, opt := range opts {
		opt(&conf)
	}
	var zero T
	return &Repository[T]{
		store:  s,
		prefix: zero.KeyPrefix(),
		itemID: conf.itemID,
	}
}

func (r *Repository[T]) Prefix() string {
	return r.prefix
}

// Put upserts e. Only the primary write decides the result; see Options.AtomicIndex.
func (r *Repository[T]) Put(ctx context.Context, e T) error {
	key := Key(r.prefix, e.ID())
	ctx, span := tracer.Start(ctx, "Store.Repository.Put")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode "+key)
	}

	var ttl time.Duration
	if exp, ok := any(e).(domain.Expirer); ok {
		ttl = exp.TTL()
	}

	item := e.ListItem()
	set := SetKey(r.prefix)

	err = r.store.do(ctx, func(ctx context.Context) error {
		backend := r.store.backend
		if item == "" {
			return backend.Set(ctx, key, value, ttl)
		}

		if tx, ok := r.store.transactor(); ok {
			return tx.Atomically(ctx, func(b Backend) error {
				if err := b.Set(ctx, key, value, ttl); err != nil {
					return err
				}
				return b.SAdd(ctx, set, item)
			})
		}

		var g errgroup.Group
		g.Go(func() error {
			return backend.Set(ctx, key, value, ttl)
		})
		g.Go(func() error {
			if err := backend.SAdd(ctx, set, item); err != nil {
				r.store.indexFailed(ctx, "sadd", set, item, err)
			}
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Get returns domain.NotFoundError when absent and domain.CorruptDataError when undecodable.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var e T
	key := Key(r.prefix, id)
	ctx, span := tracer.Start(ctx, "Store.Repository.Get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	var raw []byte
	err := r.store.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = r.store.backend.Get(ctx, key)
		return err
	})
	if errors.Is(err, ErrNil) {
		return e, domain.NotFoundError{Resource: r.prefix}
	}
	if err != nil {
		span.RecordError(err)
		return e, err
	}

	if err := json.Unmarshal(raw, &e); err != nil {
		corrupt := domain.CorruptDataError{Key: key, Err: err}
		span.RecordError(corrupt)
		slog.ErrorContext(
			ctx, "stored payload failed to decode",
			slog.String("key", key),
			slog.String("error", err.Error()),
			slog.String("module", "store"),
		)
		return e, corrupt
	}
	return e, nil
}

// Delete removes the primary key and its list item. Deleting an absent entity is not an error.
func (r *Repository[T]) Delete(ctx context.Context, e T) error {
	key := Key(r.prefix, e.ID())
	ctx, span := tracer.Start(ctx, "Store.Repository.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	item := e.ListItem()
	set := SetKey(r.prefix)

	err := r.store.do(ctx, func(ctx context.Context) error {
		backend := r.store.backend
		if item == "" {
			return backend.Del(ctx, key)
		}

		if tx, ok := r.store.transactor(); ok {
			return tx.Atomically(ctx, func(b Backend) error {
				if err := b.Del(ctx, key); err != nil {
					return err
				}
				return b.SRem(ctx, set, item)
			})
		}

		var g errgroup.Group
		g.Go(func() error {
			return backend.Del(ctx, key)
		})
		g.Go(func() error {
			if err := backend.SRem(ctx, set, item); err != nil {
				r.store.indexFailed(ctx, "srem", set, item, err)
			}
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// List returns the members of the collection set. It may disagree with the primary records.
func (r *Repository[T]) List(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Store.Repository.List")
	defer span.End()

	var members []string
	err := r.store.do(ctx, func(ctx context.Context) error {
		var err error
		members, err = r.store.backend.SMembers(ctx, SetKey(r.prefix))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// ErrNotScannable is returned by Reconcile on backends that cannot enumerate keys.
var ErrNotScannable = errors.Wrap(domain.ErrNotSupported, "store: backend cannot enumerate keys")

// Reconcile repairs drift between primary records and the membership set.
// Stale list items are removed; primary records missing from the set are re-added.
func (r *Repository[T]) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "Store.Repository.Reconcile")
	defer span.End()

	report := domain.ReconcileReport{
		Collection: SetKey(r.prefix),
		Removed:    []string{},
		Restored:   []string{},
		Corrupt:    []string{},
	}

	scanner, ok := r.store.backend.(Scanner)
	if !ok {
		return report, ErrNotScannable
	}

	backend := r.store.backend
	set := SetKey(r.prefix)

	members, err := r.List(ctx)
	if err != nil {
		return report, err
	}
	listed := make(map[string]struct{}, len(members))

	for _, item := range members {
		listed[item] = struct{}{}
		id := r.itemID(item)
		err := r.store.do(ctx, func(ctx context.Context) error {
			_, err := backend.Get(ctx, Key(r.prefix, id))
			return err
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNil) {
			return report, err
		}
		err = r.store.do(ctx, func(ctx context.Context) error {
			return backend.SRem(ctx, set, item)
		})
		if err != nil {
			return report, err
		}
		report.Removed = append(report.Removed, item)
	}

	var keys []string
	err = r.store.do(ctx, func(ctx context.Context) error {
		var err error
		keys, err = scanner.Keys(ctx, r.prefix+":")
		return err
	})
	if err != nil {
		return report, err
	}
	sort.Strings(keys)

	for _, key := range keys {
		var raw []byte
		err := r.store.do(ctx, func(ctx context.Context) error {
			var err error
			raw, err = backend.Get(ctx, key)
			return err
		})
		if errors.Is(err, ErrNil) {
			continue
		}
		if err != nil {
			return report, err
		}

		var e T
		if err := json.Unmarshal(raw, &e); err != nil {
			report.Corrupt = append(report.Corrupt, key)
			continue
		}
		item := e.ListItem()
		if item == "" {
			continue
		}
		if _, ok := listed[item]; ok {
			continue
		}
		err = r.store.do(ctx, func(ctx context.Context) error {
			return backend.SAdd(ctx, set, item)
		})
		if err != nil {
			return report, err
		}
		report.Restored = append(report.Restored, item)
	}

	slog.InfoContext(
		ctx, "reconciled collection",
		slog.String("collection", report.Collection),
		slog.Int("removed", len(report.Removed)),
		slog.Int("restored", len(report.Restored)),
		slog.Int("corrupt", len(report.Corrupt)),
		slog.String("module", "store"),
	)
	return report, nil
}
