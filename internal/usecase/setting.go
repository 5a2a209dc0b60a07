package usecase

import (
	"context"

	"github.com/pkg/errors"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

type SettingUsecase struct {
	snapshots Repository[domain.SettingSnapshot]
	engine    TallyEngine
}

func NewSettingUsecase(snapshots Repository[domain.SettingSnapshot], engine TallyEngine) *SettingUsecase {
	return &SettingUsecase{
		snapshots: snapshots,
		engine:    engine,
	}
}

// Get returns the snapshot cached at setting:{hash}.
func (uc *SettingUsecase) Get(ctx context.Context, hash string) (domain.SettingSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Setting.Usecase.Get")
	defer span.End()

	return uc.snapshots.Get(ctx, hash)
}

// Calculate tallies an ad-hoc setting, reusing and filling the snapshot cache.
func (uc *SettingUsecase) Calculate(ctx context.Context, setting domain.Setting) (domain.SettingSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Setting.Usecase.Calculate")
	defer span.End()

	setting = setting.Normalized()
	hash := setting.Hash()

	cached, err := uc.snapshots.Get(ctx, hash)
	if err == nil && cached.Result != nil {
		return cached, nil
	}

	result, err := uc.engine.Compute(ctx, setting)
	if err != nil {
		span.RecordError(errors.Wrap(err, "tally failed"))
		return domain.SettingSnapshot{}, err
	}

	snapshot := domain.SettingSnapshot{
		SettingHash: hash,
		Setting:     setting,
		Result:      &result,
	}
	if err := uc.snapshots.Put(ctx, snapshot); err != nil {
		span.RecordError(errors.Wrap(err, "failed to cache snapshot"))
		return domain.SettingSnapshot{}, err
	}
	return snapshot, nil
}
