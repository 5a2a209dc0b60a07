package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func topicChannel(topicID string) string {
	return "ornot:topic:" + topicID
}

func (s *SignalService) PublishTopic(ctx context.Context, event domain.TopicEvent) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, topicChannel(event.TopicID), jsonstr).Err()
	if err != nil {
		return err

	}

	return nil
}

// Realtime forwards events of topicID to output until ctx is done.
func (s *SignalService) Realtime(ctx context.Context, topicID string, output chan<- domain.TopicEvent) {
	pubsub := s.rdb.Subscribe(ctx, topicChannel(topicID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.TopicEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.WarnContext(
					ctx, "dropping malformed topic event",
					slog.String("error", err.Error()),
					slog.String("module", "signal"),
				)
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
