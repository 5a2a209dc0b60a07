package usecase

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

// ReconcileUsecase runs the membership repair pass over every collection.
type ReconcileUsecase struct {
	repos []Reconcilable
}

func NewReconcileUsecase(repos ...Reconcilable) *ReconcileUsecase {
	return &ReconcileUsecase{repos: repos}
}

func (uc *ReconcileUsecase) Run(ctx context.Context) ([]domain.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "Reconcile.Usecase.Run")
	defer span.End()

	reports := make([]domain.ReconcileReport, 0, len(uc.repos))
	for _, repo := range uc.repos {
		report, err := repo.Reconcile(ctx)
		if err != nil {
			err = errors.Wrapf(err, "reconcile %s", repo.Prefix())
			span.RecordError(err)
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
