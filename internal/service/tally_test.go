package service

import (
	"context"
	"math"
	"testing"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestTallyDirectVotes(t *testing.T) {
	setting := domain.Setting{
		Voters: []string{"u1", "u2"},
		Plans:  []string{"p1", "p2"},
		Votes: map[string]domain.Vote{
			"u1": {"p1": 1},
			"u2": {"p1": 1, "p2": 3},
		},
	}

	result, err := NewTallyService().Compute(context.Background(), setting)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if result.VoterCount != 2 {
		t.Fatalf("expected 2 voters, got %d", result.VoterCount)
	}
	if !approx(result.Ranking["p1"].Value, 1.25) || !approx(result.Ranking["p2"].Value, 0.75) {
		t.Fatalf("unexpected scores %+v", result.Ranking)
	}
	if keys := result.Ranking.Keys(); keys[0] != "p1" {
		t.Fatalf("expected p1 to rank first, got %v", keys)
	}
}

func TestTallyDelegation(t *testing.T) {
	setting := domain.Setting{
		Voters: []string{"u1", "u2", "u3"},
		Plans:  []string{"p1", "p2"},
		Votes: map[string]domain.Vote{
			"u1": {"u2": 1},
			"u2": {"p2": 1},
			"u3": {"p1": 1},
		},
	}

	result, err := NewTallyService().Compute(context.Background(), setting)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !approx(result.Ranking["p2"].Value, 2) || !approx(result.Ranking["p1"].Value, 1) {
		t.Fatalf("unexpected scores %+v", result.Ranking)
	}
	if keys := result.Ranking.Keys(); keys[0] != "p2" {
		t.Fatalf("expected p2 to rank first, got %v", keys)
	}
}

func TestTallyIgnoresUnknownTargets(t *testing.T) {
	setting := domain.Setting{
		Voters: []string{"u1"},
		Plans:  []string{"p1"},
		Votes: map[string]domain.Vote{
			"u1": {"p1": 1, "ghost": 5, "u1": 2},
		},
	}

	result, err := NewTallyService().Compute(context.Background(), setting)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !approx(result.Ranking["p1"].Value, 1) {
		t.Fatalf("unexpected scores %+v", result.Ranking)
	}
}

func TestTallyDelegationCycleTerminates(t *testing.T) {
	setting := domain.Setting{
		Voters: []string{"u1", "u2"},
		Plans:  []string{"p1"},
		Votes: map[string]domain.Vote{
			"u1": {"u2": 1},
			"u2": {"u1": 1},
		},
	}

	result, err := NewTallyService().Compute(context.Background(), setting)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if result.Ranking["p1"].Value != 0 {
		t.Fatalf("expected no score for p1, got %v", result.Ranking["p1"].Value)
	}
}
