package usecase

import (
	"context"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

// Repository is the keyed store for one entity type.
type Repository[T domain.Entity] interface {
	Put(ctx context.Context, e T) error
	Get(ctx context.Context, id string) (T, error)
	Delete(ctx context.Context, e T) error
	List(ctx context.Context) ([]string, error)
}

// Reconcilable is a repository that can repair its membership set.
type Reconcilable interface {
	Prefix() string
	Reconcile(ctx context.Context) (domain.ReconcileReport, error)
}

// MailSender delivers outbound mail.
type MailSender interface {
	Send(ctx context.Context, mail domain.Mail) error
}

// TallyEngine computes a poll result from a voting state.
type TallyEngine interface {
	Compute(ctx context.Context, setting domain.Setting) (domain.PollResult, error)
}

// Publisher fans topic updates out to realtime subscribers.
type Publisher interface {
	PublishTopic(ctx context.Context, event domain.TopicEvent) error
}
