package sqlite

import (
	"context"
	"errors"

	"stratus/internal/risk"
	"stratus/internal/store/model"

	"gorm.io/gorm"
)

type tradeRepo struct {
	db *gorm.DB
}

func (r *tradeRepo) Insert(ctx context.Context, trade *risk.ClosedTrade) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	row := model.TradeModel{
		Symbol:       trade.Symbol,
		Side:         string(trade.Side),
		Reason:       string(trade.Reason),
		EntryPrice:   trade.EntryPrice,
		ExitPrice:    trade.ExitPrice,
		Quantity:     trade.Quantity,
		Notional:     trade.Notional,
		PnL:          trade.PnL,
		Fees:         trade.Fees,
		OpenedAtUnix: trade.OpenedAt.Unix(),
		ClosedAtUnix: trade.ClosedAt.Unix(),
		HoldSeconds:  int64(trade.HoldDuration.Seconds()),
		CycleID:      trade.CycleID,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *tradeRepo) ListRecent(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.TradeModel
	q := r.db.WithContext(ctx).Order("closed_at DESC, id DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type cycleLogRepo struct {
	db *gorm.DB
}

func (r *cycleLogRepo) Insert(ctx context.Context, entry *model.CycleLogModel) error {
	if entry == nil {
		return errors.New("cycle log entry cannot be nil")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *cycleLogRepo) ListRecent(ctx context.Context, symbol string, limit int) ([]model.CycleLogModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.CycleLogModel
	q := r.db.WithContext(ctx).Order("at DESC, id DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
