package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

type PlanUsecase struct {
	plans Repository[domain.Plan]
}

func NewPlanUsecase(plans Repository[domain.Plan]) *PlanUsecase {
	return &PlanUsecase{plans: plans}
}

// storePlan writes plan unless a different plan already owns its id.
// Writing an identical plan again is an upsert.
func storePlan(ctx context.Context, plans Repository[domain.Plan], plan domain.Plan) error {
	stored, err := plans.Get(ctx, plan.ID())
	switch {
	case err == nil:
		if !stored.Equal(plan) {
			return domain.ValidationError{
				Field:  "plan",
				Reason: fmt.Sprintf("id %s is taken by a different %s plan", plan.ID(), stored.Body.Kind()),
			}
		}
	case errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, domain.ErrCorruptData):
		slog.WarnContext(
			ctx, "overwriting corrupt plan",
			slog.String("planId", plan.ID()),
			slog.String("error", err.Error()),
			slog.String("module", "plan"),
		)
	default:
		return err
	}
	return plans.Put(ctx, plan)
}

// Put stores the plan under its content id. Storing the same plan twice is a no-op;
// a different plan under an existing id is rejected.
func (uc *PlanUsecase) Put(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Plan.Usecase.Put")
	defer span.End()

	if plan.Body == nil {
		return domain.Plan{}, domain.ValidationError{Field: "type", Reason: "required"}
	}
	if err := storePlan(ctx, uc.plans, plan); err != nil {
		span.RecordError(errors.Wrap(err, "failed to put plan"))
		return domain.Plan{}, err
	}
	return plan, nil
}

func (uc *PlanUsecase) Get(ctx context.Context, planID string) (domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Plan.Usecase.Get")
	defer span.End()

	return uc.plans.Get(ctx, planID)
}

func (uc *PlanUsecase) List(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Plan.Usecase.List")
	defer span.End()

	return uc.plans.List(ctx)
}
