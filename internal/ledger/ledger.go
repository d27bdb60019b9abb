// Package ledger persists the trade history to sqlite. The risk manager's
// daily aggregate is derived from it, so a restart mid-day keeps the loss
// limit honest.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trawler/internal/risk"
)

// TradeRecord is one row per trade. Open trades have a zero ClosedAt.
type TradeRecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Symbol     string         `gorm:"index;size:32" json:"symbol"`
	Side       string         `gorm:"size:8" json:"side"`
	Strategy   string         `gorm:"size:32" json:"strategy"`
	Quantity   float64        `json:"quantity"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	StopLoss   float64        `json:"stop_loss"`
	Realized   float64        `json:"realized"`
	ExitReason string         `gorm:"size:64" json:"exit_reason"`
	Context    datatypes.JSON `gorm:"type:TEXT" json:"context"`
	OpenedAt   time.Time      `gorm:"index" json:"opened_at"`
	ClosedAt   time.Time      `gorm:"index" json:"closed_at"`
}

func (TradeRecord) TableName() string { return "trades" }

// EntryContext captures why a trade was taken, stored as JSON alongside
// the numbers.
type EntryContext struct {
	Confidence float64            `json:"confidence,omitempty"`
	Score      float64            `json:"score,omitempty"`
	Sentiment  *float64           `json:"sentiment,omitempty"`
	Source     string             `json:"source,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

type Ledger struct {
	db *gorm.DB
}

// Open opens or creates the sqlite ledger at path.
func Open(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newLedger(db)
}

// OpenFromDB wraps an existing gorm handle, used by tests.
func OpenFromDB(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: gorm db cannot be nil")
	}
	return newLedger(db)
}

func newLedger(db *gorm.DB) (*Ledger, error) {
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append records a freshly opened trade and returns its row id.
func (l *Ledger) Append(ctx context.Context, rec TradeRecord, entry EntryContext) (uint, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal entry context: %w", err)
	}
	rec.Context = datatypes.JSON(payload)
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now().UTC()
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}
	return rec.ID, nil
}

// CloseOut marks the open trade on symbol as closed with its realized P/L.
// The most recent open row wins if somehow more than one exists.
func (l *Ledger) CloseOut(ctx context.Context, symbol string, exitPrice, realized float64, reason string, closedAt time.Time) error {
	var rec TradeRecord
	err := l.db.WithContext(ctx).
		Where("symbol = ? AND closed_at = ?", symbol, time.Time{}).
		Order("opened_at DESC").
		First(&rec).Error
	if err != nil {
		return fmt.Errorf("ledger: close out %s: %w", symbol, err)
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return l.db.WithContext(ctx).Model(&rec).Updates(map[string]any{
		"exit_price":  exitPrice,
		"realized":    realized,
		"exit_reason": reason,
		"closed_at":   closedAt,
	}).Error
}

// DailyAggregate sums realized P/L of trades closed on the given UTC day
// and counts the losing streak at the tail of that day's closes.
func (l *Ledger) DailyAggregate(ctx context.Context, day time.Time) (risk.DailyAggregate, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var rows []TradeRecord
	err := l.db.WithContext(ctx).
		Where("closed_at >= ? AND closed_at < ?", start, end).
		Order("closed_at ASC").
		Find(&rows).Error
	if err != nil {
		return risk.DailyAggregate{}, fmt.Errorf("ledger: daily aggregate: %w", err)
	}

	agg := risk.DailyAggregate{}
	streak := 0
	for _, r := range rows {
		agg.Realized += r.Realized
		if r.Realized < 0 {
			streak++
		} else {
			streak = 0
		}
	}
	agg.ConsecutiveLosses = streak
	return agg, nil
}

// RecentTrades returns the latest closed trades, newest first.
func (l *Ledger) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []TradeRecord
	err := l.db.WithContext(ctx).
		Where("closed_at <> ?", time.Time{}).
		Order("closed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: recent trades: %w", err)
	}
	return rows, nil
}

// OpenTrades returns trades not yet closed out, used on startup reconcile.
func (l *Ledger) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	var rows []TradeRecord
	err := l.db.WithContext(ctx).
		Where("closed_at = ?", time.Time{}).
		Order("opened_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: open trades: %w", err)
	}
	return rows, nil
}
