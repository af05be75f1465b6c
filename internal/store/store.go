package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE STORE - Append-only persistence for copied trades and sessions
// ═══════════════════════════════════════════════════════════════════════════════
//
// Writes never fail the hot path: RecordTrade logs and swallows DB errors.
// Postgres is selected by DSN prefix, anything else is a SQLite file path.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TradeRecord is one copied trade, denormalized for query convenience
type TradeRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID uint   `gorm:"index"`
	TokenID   string `gorm:"index"`
	MarketID  string
	Title     string
	Outcome   string

	LeaderTradeID string
	Side          string
	Size          decimal.Decimal `gorm:"type:decimal(20,6)"`
	Price         decimal.Decimal `gorm:"type:decimal(10,6)"`
	FilledSize    decimal.Decimal `gorm:"type:decimal(20,6)"`
	FillPrice     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Cost          decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status        string
	OrderID       string
	Mode          string
	OrderType     string
	ErrorMsg      string

	PnL decimal.NullDecimal `gorm:"column:pnl;type:decimal(20,6)"`

	DetectionLatencyMs int64
	ExecutionLatencyMs int64
	TotalLatencyMs     int64

	CreatedAt time.Time `gorm:"index"`
}

// Session is one engine run
type Session struct {
	ID              uint `gorm:"primaryKey;autoIncrement"`
	StartedAt       time.Time
	EndedAt         *time.Time
	Mode            string
	DetectionMethod string
	LeaderAddress   string
	PollCount       int64
	TradesDetected  int64
	TradesExecuted  int64
	TotalPnL        decimal.Decimal `gorm:"column:total_pnl;type:decimal(20,6)"`
	StartingBalance decimal.Decimal `gorm:"type:decimal(20,6)"`
	EndingBalance   decimal.Decimal `gorm:"type:decimal(20,6)"`
}

// Store wraps the database handle
type Store struct {
	db *gorm.DB
}

// New opens the store. A postgres:// DSN connects to PostgreSQL, anything
// else is treated as a SQLite file path.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Trade store connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		// WAL keeps reads open while the hot path writes
		db.Exec("PRAGMA journal_mode=WAL")
		log.Info().Str("path", dbPath).Msg("💾 Trade store initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRecord{}, &Session{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenSession starts a new session row and returns its id
func (s *Store) OpenSession(mode, method, leader string, startingBalance decimal.Decimal) uint {
	session := Session{
		StartedAt:       time.Now(),
		Mode:            mode,
		DetectionMethod: method,
		LeaderAddress:   leader,
		StartingBalance: startingBalance,
	}
	if err := s.db.Create(&session).Error; err != nil {
		log.Error().Err(err).Msg("Failed to open session")
		return 0
	}
	return session.ID
}

// CloseSession stamps the session with final stats. Errors log only.
func (s *Store) CloseSession(id uint, detected, executed, pollCount int64, totalPnL, endingBalance decimal.Decimal) {
	if id == 0 {
		return
	}
	now := time.Now()
	err := s.db.Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"ended_at":        &now,
		"trades_detected": detected,
		"trades_executed": executed,
		"poll_count":      pollCount,
		"total_pnl":       totalPnL,
		"ending_balance":  endingBalance,
	}).Error
	if err != nil {
		log.Error().Err(err).Uint("session", id).Msg("Failed to close session")
	}
}

// RecordTrade persists one copied trade. DB errors are logged, never returned.
func (s *Store) RecordTrade(rec *TradeRecord) {
	rec.Cost = rec.FilledSize.Mul(rec.FillPrice)
	if err := s.db.Create(rec).Error; err != nil {
		log.Error().Err(err).Msg("Failed to record trade")
	}
}

// Trades returns a session's trades oldest-first
func (s *Store) Trades(sessionID uint) ([]TradeRecord, error) {
	var out []TradeRecord
	err := s.db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// Close releases the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// side strings stored on TradeRecord rows
const (
	sideBuy  = string(types.SideBuy)
	sideSell = string(types.SideSell)
)
