package service

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/utils"
)

var tallyTracer = otel.Tracer("tally")

const (
	defaultTallyRounds  = 64
	defaultTallyEpsilon = 1e-9
)

// TallyService is a liquid-democracy tally. Every voter holds one unit of
// power and splits it across the ballot in proportion to the weights. Weight
// given to a plan is scored; weight given to another voter is delegated and
// split again by that voter's ballot on the next round. Power held by a voter
// without a ballot, or still circulating after the last round, is lost.
type TallyService struct {
	rounds  int
	epsilon float64
	now     func() time.Time
}

func NewTallyService() *TallyService {
	return &TallyService{
		rounds:  defaultTallyRounds,
		epsilon: defaultTallyEpsilon,
		now:     time.Now,
	}
}

func (s *TallyService) Compute(ctx context.Context, setting domain.Setting) (domain.PollResult, error) {
	_, span := tallyTracer.Start(ctx, "Tally.Service.Compute")
	defer span.End()

	setting = setting.Normalized()

	isPlan := make(map[string]bool, len(setting.Plans))
	for _, p := range setting.Plans {
		isPlan[p] = true
	}

	ballots := make(map[string]domain.Vote, len(setting.Voters))
	for _, voter := range setting.Voters {
		ballot := normalizeBallot(voter, setting.Votes[voter], isPlan, setting.HasVoter)
		if len(ballot) > 0 {
			ballots[voter] = ballot
		}
	}

	scores := make(map[string]float64, len(setting.Plans))
	for _, p := range setting.Plans {
		scores[p] = 0
	}

	held := make(map[string]float64, len(ballots))
	for voter := range ballots {
		held[voter] = 1
	}

	for round := 0; round < s.rounds && len(held) > 0; round++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return domain.PollResult{}, err
		}

		next := map[string]float64{}
		circulating := 0.0
		for voter, power := range held {
			for target, weight := range ballots[voter] {
				share := power * weight
				if isPlan[target] {
					scores[target] += share
					continue
				}
				if _, ok := ballots[target]; ok {
					next[target] += share
					circulating += share
				}
			}
		}
		held = next
		if circulating < s.epsilon {
			break
		}
	}

	plans := make([]string, 0, len(scores))
	for p := range scores {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		if scores[plans[i]] != scores[plans[j]] {
			return scores[plans[i]] > scores[plans[j]]
		}
		return plans[i] < plans[j]
	})

	ranking := make(utils.OrderedKVMap[float64], len(plans))
	for i, p := range plans {
		ranking[p] = utils.OrderedKV[float64]{Value: scores[p], Order: int64(i)}
	}

	span.SetAttributes(attribute.Int("voters", len(ballots)), attribute.Int("plans", len(plans)))
	return domain.PollResult{
		Ranking:    ranking,
		VoterCount: len(ballots),
		ComputedAt: s.now().UTC(),
	}, nil
}

// normalizeBallot keeps targets that are plans or other voters and scales the weights to sum to one.
func normalizeBallot(voter string, vote domain.Vote, isPlan map[string]bool, isVoter func(string) bool) domain.Vote {
	total := 0.0
	for target, weight := range vote {
		if weight <= 0 || target == voter {
			continue
		}
		if isPlan[target] || isVoter(target) {
			total += weight
		}
	}
	if total == 0 {
		return nil
	}

	ballot := domain.Vote{}
	for target, weight := range vote {
		if weight <= 0 || target == voter {
			continue
		}
		if isPlan[target] || isVoter(target) {
			ballot[target] = weight / total
		}
	}
	return ballot
}
