package trading

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) UpsertTrade(ctx context.Context, entry *TradeEntry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trade_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "ccy_pair", "side", "quantity", "status", "pre_trade_result", "updated_at",
		}),
	}).Create(entry).Error
}

func (d *Database) GetTrade(ctx context.Context, tradeID string) (*TradeEntry, error) {
	var entry TradeEntry
	if err := d.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d *Database) GetClientTrades(ctx context.Context, clientID string) ([]TradeEntry, error) {
	var entries []TradeEntry
	if err := d.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
