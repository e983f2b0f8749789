package clients

import (
	"context"
	"time"

	"github.com/ksred/klear-fx/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) UpsertClient(ctx context.Context, clientID string, status types.CreditStatus) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"credit_status", "updated_at"}),
	}).Create(&ClientEntry{
		ClientID:     clientID,
		CreditStatus: string(status),
		UpdatedAt:    time.Now(),
	}).Error
}

func (d *Database) GetClients(ctx context.Context, clientIDs []string) ([]ClientEntry, error) {
	var entries []ClientEntry
	if len(clientIDs) == 0 {
		return entries, nil
	}
	if err := d.db.WithContext(ctx).Where("client_id IN ?", clientIDs).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
