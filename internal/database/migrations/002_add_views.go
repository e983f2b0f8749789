package migrations

import (
	"github.com/ksred/klear-fx/internal/clients"
	"github.com/ksred/klear-fx/internal/trading"
	"gorm.io/gorm"
)

// AddViews creates the client credit and trades by client projections
func AddViews(db *gorm.DB) error {
	if err := db.AutoMigrate(&clients.ClientEntry{}, &trading.TradeEntry{}); err != nil {
		return err
	}

	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_entries_client_created
		ON trade_entries(client_id, created_at)`).Error
}
