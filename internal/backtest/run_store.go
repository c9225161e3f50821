package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stratus/internal/risk"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type runModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	Status        string         `gorm:"column:status"`
	Message       string         `gorm:"column:message"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	DoneAtUnix    int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type simTradeModel struct {
	ID      int64          `gorm:"column:id;primaryKey"`
	RunID   string         `gorm:"column:run_id;index"`
	Seq     int            `gorm:"column:seq"`
	Payload datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (simTradeModel) TableName() string { return "backtest_trades" }

type snapshotModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Balance  float64 `gorm:"column:balance"`
	Peak     float64 `gorm:"column:peak"`
	Drawdown float64 `gorm:"column:drawdown"`
}

func (snapshotModel) TableName() string { return "backtest_snapshots" }

// ResultStore persists runs, trades and equity curves.
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewResultStoreFromDB(db)
}

func NewResultStoreFromDB(db *gorm.DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&runModel{}, &simTradeModel{}, &snapshotModel{}); err != nil {
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgRaw, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	statsRaw, err := run.MarshalStats()
	if err != nil {
		return err
	}
	row := runModel{
		ID:            run.ID,
		Symbol:        run.Symbol,
		Status:        run.Status,
		Message:       run.Message,
		ConfigJSON:    cfgRaw,
		StatsJSON:     statsRaw,
		CreatedAtUnix: run.CreatedAt.Unix(),
	}
	if !run.CompletedAt.IsZero() {
		row.DoneAtUnix = run.CompletedAt.Unix()
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// FinishRun marks a run done or failed with its final stats.
func (s *ResultStore) FinishRun(ctx context.Context, id, status, message string, stats RunStats) error {
	statsRaw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       status,
		"message":      message,
		"stats_json":   datatypes.JSON(statsRaw),
		"completed_at": time.Now().Unix(),
	}).Error
}

func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "message": message}).Error
}

func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []risk.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	rows := make([]simTradeModel, 0, len(trades))
	for i, tr := range trades {
		raw, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		rows = append(rows, simTradeModel{RunID: runID, Seq: i, Payload: raw})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func (s *ResultStore) InsertSnapshots(ctx context.Context, runID string, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	rows := make([]snapshotModel, 0, len(snaps))
	for _, sn := range snaps {
		rows = append(rows, snapshotModel{
			RunID:    runID,
			TS:       sn.TS,
			Equity:   sn.Equity,
			Balance:  sn.Balance,
			Peak:     sn.Peak,
			Drawdown: sn.Drawdown,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var row runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return Run{}, err
	}
	return rowToRun(row)
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]risk.ClosedTrade, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []simTradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("seq ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]risk.ClosedTrade, 0, len(rows))
	for _, row := range rows {
		var tr risk.ClosedTrade
		if err := json.Unmarshal(row.Payload, &tr); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 5000
	}
	var rows []snapshotModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).
		Order("ts ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, Snapshot{
			RunID:    row.RunID,
			TS:       row.TS,
			Equity:   row.Equity,
			Balance:  row.Balance,
			Peak:     row.Peak,
			Drawdown: row.Drawdown,
		})
	}
	return out, nil
}

func rowToRun(row runModel) (Run, error) {
	run := Run{
		ID:        row.ID,
		Symbol:    row.Symbol,
		Status:    row.Status,
		Message:   row.Message,
		CreatedAt: time.Unix(row.CreatedAtUnix, 0),
	}
	if row.DoneAtUnix > 0 {
		run.CompletedAt = time.Unix(row.DoneAtUnix, 0)
	}
	if len(row.ConfigJSON) > 0 {
		if err := json.Unmarshal(row.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(row.StatsJSON) > 0 {
		if err := json.Unmarshal(row.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}
