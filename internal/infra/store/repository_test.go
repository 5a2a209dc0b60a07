package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

// flakyBackend fails every membership write.
type flakyBackend struct {
	*MemoryBackend
}

var errFlaky = errors.New("connection reset")

func (f flakyBackend) SAdd(ctx context.Context, set, member string) error {
	return errFlaky
}

func (f flakyBackend) SRem(ctx context.Context, set, member string) error {
	return errFlaky
}

// stallBackend blocks reads until the caller gives up.
type stallBackend struct {
	*MemoryBackend
}

func (s stallBackend) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTopic(t *testing.T, title string) domain.Topic {
	t.Helper()
	return domain.NewTopic(domain.PartialTopic{Title: title, Description: "desc"})
}

func TestRepositoryPutGet(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), Options{})
	repo := NewRepository[domain.Topic](s, WithItemID(domain.TopicIDFromListItem))

	topic := newTopic(t, "lunch")
	require.NoError(t, repo.Put(ctx, topic))

	got, err := repo.Get(ctx, topic.ID())
	require.NoError(t, err)
	require.Equal(t, topic.TopicID, got.TopicID)
	require.Equal(t, "lunch", got.Title)
	require.Equal(t, domain.InitialSettingHash, got.SettingHash)

	raw, err := s.Backend().Get(ctx, "topic:"+topic.ID())
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{topic.ListItem()}, members)
}

func TestRepositoryPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), Options{})
	repo := NewRepository[domain.User](s)

	user := domain.NewUser("alice", "alice@example.com")
	require.NoError(t, repo.Put(ctx, user))
	user.IsVerified = true
	require.NoError(t, repo.Put(ctx, user))

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)

	got, err := repo.Get(ctx, user.ID())
	require.NoError(t, err)
	require.True(t, got.IsVerified)
}

func TestRepositoryGetMissing(t *testing.T) {
	s := New(NewMemoryBackend(), Options{})
	repo := NewRepository[domain.User](s)

	_, err := repo.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepositoryGetCorrupt(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, Options{})
	repo := NewRepository[domain.User](s)

	require.NoError(t, backend.Set(ctx, "user:broken", []byte("{not json"), 0))

	_, err := repo.Get(ctx, "broken")
	require.ErrorIs(t, err, domain.ErrCorruptData)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestRepositoryUnindexedEntity(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, Options{})
	repo := NewRepository[domain.AccessToken](s)

	token := domain.AccessToken{Token: "tok", UserID: "u1"}
	require.NoError(t, repo.Put(ctx, token))

	members, err := backend.SMembers(ctx, "access_tokens")
	require.NoError(t, err)
	require.Empty(t, members)

	got, err := repo.Get(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
}

func TestRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), Options{})
	repo := NewRepository[domain.User](s)

	user := domain.NewUser("bob", "bob@example.com")
	require.NoError(t, repo.Put(ctx, user))
	require.NoError(t, repo.Delete(ctx, user))
	require.NoError(t, repo.Delete(ctx, user))

	_, err := repo.Get(ctx, user.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRepositoryIndexFailureDoesNotFailPut(t *testing.T) {
	ctx := context.Background()
	backend := flakyBackend{NewMemoryBackend()}
	s := New(backend, Options{})
	repo := NewRepository[domain.User](s)

	user := domain.NewUser("carol", "carol@example.com")
	require.NoError(t, repo.Put(ctx, user))
	require.Equal(t, int64(1), s.IndexFailures())

	_, err := repo.Get(ctx, user.ID())
	require.NoError(t, err)

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRepositoryAtomicIndex(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), Options{AtomicIndex: true})
	repo := NewRepository[domain.Topic](s)

	topic := newTopic(t, "atomic")
	require.NoError(t, repo.Put(ctx, topic))

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{topic.ListItem()}, members)
	require.Zero(t, s.IndexFailures())
}

func TestRepositoryReconcile(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, Options{})
	repo := NewRepository[domain.Topic](s, WithItemID(domain.TopicIDFromListItem))

	kept := newTopic(t, "kept")
	require.NoError(t, repo.Put(ctx, kept))

	// a primary record without its list item
	orphan := newTopic(t, "orphan")
	flaky := New(flakyBackend{backend}, Options{})
	require.NoError(t, NewRepository[domain.Topic](flaky).Put(ctx, orphan))

	// a list item without its primary record
	ghost := newTopic(t, "ghost")
	require.NoError(t, backend.SAdd(ctx, "topics", ghost.ListItem()))

	require.NoError(t, backend.Set(ctx, "topic:junk", []byte("]]"), 0))

	report, err := repo.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, "topics", report.Collection)
	require.Equal(t, []string{ghost.ListItem()}, report.Removed)
	require.Equal(t, []string{orphan.ListItem()}, report.Restored)
	require.Equal(t, []string{"topic:junk"}, report.Corrupt)

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{kept.ListItem(), orphan.ListItem()}, members)
}

func TestRepositoryTimeout(t *testing.T) {
	s := New(stallBackend{NewMemoryBackend()}, Options{Timeout: 20 * time.Millisecond})
	repo := NewRepository[domain.User](s)

	_, err := repo.Get(context.Background(), "slow")
	require.ErrorIs(t, err, domain.ErrTimeout)
}

func TestRepositoryBackendFailure(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend, Options{})
	repo := NewRepository[domain.User](s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Get(ctx, "any")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
