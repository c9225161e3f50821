package sqlite

import (
	"context"
	"errors"
	"time"

	"stratus/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type engineStateRepo struct {
	db *gorm.DB
}

func (r *engineStateRepo) SetHalted(ctx context.Context, symbol, reason string, at time.Time) error {
	row := model.EngineStateModel{
		Symbol:       symbol,
		Halted:       true,
		HaltReason:   reason,
		HaltedAtUnix: at.Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (r *engineStateRepo) ClearHalted(ctx context.Context, symbol string) error {
	return r.db.WithContext(ctx).
		Model(&model.EngineStateModel{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{"halted": false, "halt_reason": "", "halted_at": 0}).Error
}

func (r *engineStateRepo) Halted(ctx context.Context, symbol string) (bool, string, error) {
	var row model.EngineStateModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return row.Halted, row.HaltReason, nil
}
