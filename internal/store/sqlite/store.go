// Package sqlite implements store.Store on gorm + sqlite. Single writer,
// WAL journal, small connection pool.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stratus/internal/store"
	"stratus/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

// NewSqliteStoreFromDB wraps an existing connection, used by tests with an
// in-memory database.
func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.PositionModel{},
		&model.DayStateModel{},
		&model.TradeModel{},
		&model.CycleLogModel{},
		&model.EngineStateModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Positions() store.PositionRepository   { return &positionRepo{db: s.db} }
func (s *SqliteStore) DayStates() store.DayStateRepository   { return &dayStateRepo{db: s.db} }
func (s *SqliteStore) Trades() store.TradeRepository         { return &tradeRepo{db: s.db} }
func (s *SqliteStore) CycleLogs() store.CycleLogRepository   { return &cycleLogRepo{db: s.db} }
func (s *SqliteStore) EngineState() store.EngineStateRepository { return &engineStateRepo{db: s.db} }

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
