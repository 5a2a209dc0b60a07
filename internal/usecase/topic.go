package usecase

import (
	"context"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

type VoteStatus string

const (
	VoteUpdated  VoteStatus = "updated"
	VoteNoChange VoteStatus = "no_change"
)

// VoteOutcome is the result of InsertVote. Topic is the state after the call.
type VoteOutcome struct {
	Status VoteStatus   `json:"status"`
	Topic  domain.Topic `json:"topic"`
}

// TopicUsecase applies membership changes and votes to topics.
// Every mutation is a read-modify-write of the whole topic record with no
// concurrency token, so concurrent writers to one topic race and the last put wins.
type TopicUsecase struct {
	topics    Repository[domain.Topic]
	plans     Repository[domain.Plan]
	snapshots Repository[domain.SettingSnapshot]
	engine    TallyEngine
	publisher Publisher
}

func NewTopicUsecase(
	topics Repository[domain.Topic],
	plans Repository[domain.Plan],
	snapshots Repository[domain.SettingSnapshot],
	engine TallyEngine,
	publisher Publisher,
) *TopicUsecase {
	return &TopicUsecase{
		topics:    topics,
		plans:     plans,
		snapshots: snapshots,
		engine:    engine,
		publisher: publisher,
	}
}

// Put creates the topic, replacing any topic with the same title and description.
func (uc *TopicUsecase) Put(ctx context.Context, partial domain.PartialTopic) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.Put")
	defer span.End()

	if err := partial.Validate(); err != nil {
		return domain.Topic{}, err
	}

	topic := domain.NewTopic(partial)
	if err := uc.topics.Put(ctx, topic); err != nil {
		span.RecordError(errors.Wrap(err, "failed to put topic"))
		return domain.Topic{}, err
	}
	return topic, nil
}

func (uc *TopicUsecase) Get(ctx context.Context, topicID string) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.Get")
	defer span.End()

	return uc.topics.Get(ctx, topicID)
}

func (uc *TopicUsecase) Delete(ctx context.Context, topicID string) error {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.Delete")
	defer span.End()

	topic, err := uc.topics.Get(ctx, topicID)
	if err != nil {
		return err
	}
	if err := uc.topics.Delete(ctx, topic); err != nil {
		span.RecordError(errors.Wrap(err, "failed to delete topic"))
		return err
	}
	return nil
}

// List returns the topic membership set as id/title pairs.
func (uc *TopicUsecase) List(ctx context.Context) ([]domain.TopicSummary, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.List")
	defer span.End()

	items, err := uc.topics.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.TopicSummary, 0, len(items))
	for _, item := range items {
		summary, ok := domain.ParseTopicSummary(item)
		if !ok {
			slog.WarnContext(
				ctx, "skipping malformed topic list item",
				slog.String("item", item),
				slog.String("module", "topic"),
			)
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Title < summaries[j].Title
	})
	return summaries, nil
}

func (uc *TopicUsecase) mutate(ctx context.Context, topicID string, fn func(*domain.Topic)) (domain.Topic, error) {
	topic, err := uc.topics.Get(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	fn(&topic)
	if err := uc.topics.Put(ctx, topic); err != nil {
		return domain.Topic{}, err
	}
	return topic, nil
}

// AddPlan adds a plan id to the topic. The cached result is left as is.
func (uc *TopicUsecase) AddPlan(ctx context.Context, topicID, planID string) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.AddPlan")
	defer span.End()
	span.SetAttributes(attribute.String("topicId", topicID), attribute.String("planId", planID))

	return uc.mutate(ctx, topicID, func(t *domain.Topic) {
		t.Setting.AddPlan(planID)
	})
}

// AddNewPlan persists plan and adds it to the topic.
// A different plan already stored under the same id is not replaced.
func (uc *TopicUsecase) AddNewPlan(ctx context.Context, topicID string, plan domain.Plan) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.AddNewPlan")
	defer span.End()

	var topic domain.Topic
	var g errgroup.Group
	g.Go(func() error {
		return storePlan(ctx, uc.plans, plan)
	})
	g.Go(func() error {
		var err error
		topic, err = uc.topics.Get(ctx, topicID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to add new plan"))
		return domain.Topic{}, err
	}

	topic.Setting.AddPlan(plan.ID())
	if err := uc.topics.Put(ctx, topic); err != nil {
		return domain.Topic{}, err
	}
	return topic, nil
}

func (uc *TopicUsecase) RemovePlan(ctx context.Context, topicID, planID string) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.RemovePlan")
	defer span.End()

	return uc.mutate(ctx, topicID, func(t *domain.Topic) {
		t.Setting.RemovePlan(planID)
	})
}

func (uc *TopicUsecase) AddVoter(ctx context.Context, topicID, userID string) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.AddVoter")
	defer span.End()

	return uc.mutate(ctx, topicID, func(t *domain.Topic) {
		t.Setting.AddVoter(userID)
	})
}

// RemoveVoter also drops the voter's ballot.
func (uc *TopicUsecase) RemoveVoter(ctx context.Context, topicID, userID string) (domain.Topic, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.RemoveVoter")
	defer span.End()

	return uc.mutate(ctx, topicID, func(t *domain.Topic) {
		t.Setting.RemoveVoter(userID)
	})
}

// InsertVote replaces the user's ballot and re-tallies when the setting hash moves.
// A ballot from a user who is not a voter of the topic is dropped without writes.
func (uc *TopicUsecase) InsertVote(ctx context.Context, topicID, userID string, vote domain.Vote) (VoteOutcome, error) {
	ctx, span := tracer.Start(ctx, "Topic.Usecase.InsertVote")
	defer span.End()
	span.SetAttributes(attribute.String("topicId", topicID), attribute.String("userId", userID))

	if err := vote.Validate(); err != nil {
		return VoteOutcome{}, err
	}

	topic, err := uc.topics.Get(ctx, topicID)
	if err != nil {
		return VoteOutcome{}, err
	}

	if !topic.Setting.HasVoter(userID) {
		slog.DebugContext(
			ctx, "dropping vote from non-voter",
			slog.String("topicId", topicID),
			slog.String("userId", userID),
			slog.String("module", "topic"),
		)
		return VoteOutcome{Status: VoteNoChange, Topic: topic}, nil
	}

	newHash := topic.InsertVote(userID, vote)
	if newHash == topic.SettingHash {
		return VoteOutcome{Status: VoteNoChange, Topic: topic}, nil
	}
	topic.UpdateSettingHash(newHash)

	result, err := uc.tally(ctx, newHash, topic.Setting)
	if err != nil {
		span.RecordError(errors.Wrap(err, "tally failed"))
		return VoteOutcome{}, err
	}
	topic.Result = &result

	snapshot := domain.SettingSnapshot{
		SettingHash: newHash,
		Setting:     topic.Setting,
		Result:      &result,
	}
	var g errgroup.Group
	g.Go(func() error {
		return uc.topics.Put(ctx, topic)
	})
	g.Go(func() error {
		return uc.snapshots.Put(ctx, snapshot)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(errors.Wrap(err, "failed to persist vote"))
		return VoteOutcome{}, err
	}

	uc.publish(ctx, domain.TopicEvent{
		Type:        domain.TopicEventUpdated,
		TopicID:     topic.TopicID,
		SettingHash: newHash,
		Result:      &result,
	})

	return VoteOutcome{Status: VoteUpdated, Topic: topic}, nil
}

// tally reuses the result cached for hash, computing it only on a miss.
func (uc *TopicUsecase) tally(ctx context.Context, hash string, setting domain.Setting) (domain.PollResult, error) {
	snapshot, err := uc.snapshots.Get(ctx, hash)
	if err == nil && snapshot.Result != nil {
		return *snapshot.Result, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.WarnContext(
			ctx, "setting snapshot lookup failed",
			slog.String("hash", hash),
			slog.String("error", err.Error()),
			slog.String("module", "topic"),
		)
	}
	return uc.engine.Compute(ctx, setting)
}

func (uc *TopicUsecase) publish(ctx context.Context, event domain.TopicEvent) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishTopic(ctx, event); err != nil {
		slog.WarnContext(
			ctx, "failed to publish topic event",
			slog.String("topicId", event.TopicID),
			slog.String("error", err.Error()),
			slog.String("module", "topic"),
		)
	}
}
