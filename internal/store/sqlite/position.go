package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stratus/internal/guard"
	"stratus/internal/risk"
	"stratus/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type positionRepo struct {
	db *gorm.DB
}

func (r *positionRepo) Save(ctx context.Context, pos *risk.Position) error {
	if pos == nil {
		return errors.New("position cannot be nil")
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	row := model.PositionModel{
		Symbol:        pos.Symbol,
		StateJSON:     datatypes.JSON(raw),
		UpdatedAtUnix: time.Now().Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (r *positionRepo) Load(ctx context.Context, symbol string) (*risk.Position, error) {
	var row model.PositionModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pos risk.Position
	if err := json.Unmarshal(row.StateJSON, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position %s: %w", symbol, err)
	}
	return &pos, nil
}

func (r *positionRepo) Clear(ctx context.Context, symbol string) error {
	return r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&model.PositionModel{}).Error
}

type dayStateRepo struct {
	db *gorm.DB
}

func (r *dayStateRepo) Save(ctx context.Context, symbol string, day *guard.DayState) error {
	if day == nil {
		return errors.New("day state cannot be nil")
	}
	raw, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("marshal day state: %w", err)
	}
	row := model.DayStateModel{
		Symbol:        symbol,
		Date:          day.Date,
		StateJSON:     datatypes.JSON(raw),
		UpdatedAtUnix: time.Now().Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (r *dayStateRepo) Load(ctx context.Context, symbol string) (*guard.DayState, error) {
	var row model.DayStateModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var day guard.DayState
	if err := json.Unmarshal(row.StateJSON, &day); err != nil {
		return nil, fmt.Errorf("unmarshal day state %s: %w", symbol, err)
	}
	return &day, nil
}
