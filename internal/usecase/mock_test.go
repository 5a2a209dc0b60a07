package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/infra/store"
	"github.com/yasushisakai/ornot-server/internal/utils"
)

type mockMail struct {
	mu   sync.Mutex
	sent []domain.Mail
	err  error
}

func (m *mockMail) Send(ctx context.Context, mail domain.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *mockMail) Sent() []domain.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Mail(nil), m.sent...)
}

// mockEngine scores each plan by the number of ballots naming it.
type mockEngine struct {
	calls atomic.Int32
}

func (m *mockEngine) Compute(ctx context.Context, setting domain.Setting) (domain.PollResult, error) {
	m.calls.Add(1)
	ranking := utils.OrderedKVMap[float64]{}
	for i, p := range setting.Plans {
		score := 0.0
		for _, vote := range setting.Votes {
			if _, ok := vote[p]; ok {
				score++
			}
		}
		ranking[p] = utils.OrderedKV[float64]{Value: score, Order: int64(i)}
	}
	return domain.PollResult{
		Ranking:    ranking,
		VoterCount: len(setting.Votes),
		ComputedAt: time.Unix(0, 0).UTC(),
	}, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.TopicEvent
}

func (m *mockPublisher) PublishTopic(ctx context.Context, event domain.TopicEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// barrierTopics holds the first n reads until all of them have arrived,
// so that n concurrent read-modify-write cycles all start from the same state.
type barrierTopics struct {
	Repository[domain.Topic]
	arrived sync.WaitGroup
	pending atomic.Int32
}

func newBarrierTopics(repo Repository[domain.Topic], n int) *barrierTopics {
	b := &barrierTopics{Repository: repo}
	b.arrived.Add(n)
	b.pending.Store(int32(n))
	return b
}

func (b *barrierTopics) Get(ctx context.Context, id string) (domain.Topic, error) {
	topic, err := b.Repository.Get(ctx, id)
	if b.pending.Add(-1) >= 0 {
		b.arrived.Done()
		b.arrived.Wait()
	}
	return topic, err
}

// downUsers fails every call as an unreachable store would.
type downUsers struct{}

var errDown = errors.Wrap(domain.ErrStoreUnavailable, "dial tcp: connection refused")

func (downUsers) Put(ctx context.Context, e domain.User) error { return errDown }
func (downUsers) Get(ctx context.Context, id string) (domain.User, error) {
	return domain.User{}, errDown
}
func (downUsers) Delete(ctx context.Context, e domain.User) error { return errDown }
func (downUsers) List(ctx context.Context) ([]string, error)     { return nil, errDown }

type fixture struct {
	store     *store.Store
	users     *store.Repository[domain.User]
	codes     *store.Repository[domain.TempCode]
	tokens    *store.Repository[domain.AccessToken]
	topics    *store.Repository[domain.Topic]
	plans     *store.Repository[domain.Plan]
	snapshots *store.Repository[domain.SettingSnapshot]
}

func newFixture() fixture {
	s := store.New(store.NewMemoryBackend(), store.Options{})
	return fixture{
		store:     s,
		users:     store.NewRepository[domain.User](s),
		codes:     store.NewRepository[domain.TempCode](s),
		tokens:    store.NewRepository[domain.AccessToken](s),
		topics:    store.NewRepository[domain.Topic](s, store.WithItemID(domain.TopicIDFromListItem)),
		plans:     store.NewRepository[domain.Plan](s),
		snapshots: store.NewRepository[domain.SettingSnapshot](s),
	}
}
