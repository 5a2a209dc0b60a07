package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

func TestSettingCalculateCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := &mockEngine{}
	uc := NewSettingUsecase(f.snapshots, engine)

	setting := domain.Setting{
		Voters: []string{"u2", "u1"},
		Plans:  []string{"p1"},
		Votes:  map[string]domain.Vote{"u1": {"p1": 1}},
	}

	first, err := uc.Calculate(ctx, setting)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	second, err := uc.Calculate(ctx, setting)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if first.SettingHash != second.SettingHash {
		t.Fatalf("hash not stable: %s != %s", first.SettingHash, second.SettingHash)
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("expected one computation, got %d", engine.calls.Load())
	}

	got, err := uc.Get(ctx, first.SettingHash)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Setting.Voters[0] != "u1" || got.Result == nil {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if _, err := uc.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPlanPutGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	uc := NewPlanUsecase(f.plans)

	label := "station"
	plan, err := domain.NewPlan(domain.LatLngPlan{Label: &label, Point: domain.LatLng{Lat: 35.681236, Lng: 139.767125}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uc.Put(ctx, plan); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := uc.Put(ctx, plan); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := uc.Get(ctx, plan.ID())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID() != plan.ID() || got.Body.Kind() != domain.PlanKindLatLng {
		t.Fatalf("unexpected plan %+v", got)
	}

	ids, _ := uc.List(ctx)
	if len(ids) != 1 {
		t.Fatalf("expected one plan listed, got %v", ids)
	}
}

func TestPlanPutRejectsDifferentPlanWithSameID(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	uc := NewPlanUsecase(f.plans)

	simple, _ := domain.NewPlan(domain.SimplePlan{Title: "ramen"})
	long, _ := domain.NewPlan(domain.LongPlan{Title: "ramen", Description: "tonkotsu"})
	if simple.ID() != long.ID() {
		t.Fatalf("expected both plans to share an id")
	}

	if _, err := uc.Put(ctx, simple); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := uc.Put(ctx, long); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := uc.Get(ctx, simple.ID())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Body.Kind() != domain.PlanKindSimple || !got.Equal(simple) {
		t.Fatalf("stored plan was replaced: %+v", got.Body)
	}

	if _, err := uc.Put(ctx, simple); err != nil {
		t.Fatalf("identical put should succeed: %v", err)
	}
}

func TestPlanPutOverwritesCorruptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	uc := NewPlanUsecase(f.plans)

	plan, _ := domain.NewPlan(domain.SimplePlan{Title: "soba"})
	if err := f.store.Backend().Set(ctx, "plan:"+plan.ID(), []byte("{"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := uc.Put(ctx, plan); err != nil {
		t.Fatalf("put over corrupt record failed: %v", err)
	}
	got, err := uc.Get(ctx, plan.ID())
	if err != nil || !got.Equal(plan) {
		t.Fatalf("unexpected plan %+v: %v", got.Body, err)
	}
}

func TestReconcileRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	if err := f.store.Backend().SAdd(ctx, "users", "ghost"); err != nil {
		t.Fatal(err)
	}
	user := domain.NewUser("alice", "a@x.com")
	if err := f.users.Put(ctx, user); err != nil {
		t.Fatal(err)
	}

	uc := NewReconcileUsecase(f.users, f.topics, f.plans)
	reports, err := uc.Run(ctx)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected three reports, got %d", len(reports))
	}
	if reports[0].Collection != "users" || len(reports[0].Removed) != 1 || reports[0].Removed[0] != "ghost" {
		t.Fatalf("unexpected users report %+v", reports[0])
	}

	members, _ := f.users.List(ctx)
	if len(members) != 1 || members[0] != user.UserID {
		t.Fatalf("unexpected users after repair: %v", members)
	}
}
