package migrations

import (
	"github.com/ksred/klear-fx/internal/runtime"
	"gorm.io/gorm"
)

// AddRuntimeTables creates the journal, snapshot and consumer offset tables
func AddRuntimeTables(db *gorm.DB) error {
	if err := runtime.Migrate(db); err != nil {
		return err
	}

	indexes := []string{
		// Consumers tail one component in id order
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_component_id
		 ON journal_entries(component, id)`,

		// Recovery scans a component for pending steps
		`CREATE INDEX IF NOT EXISTS idx_snapshots_component_step
		 ON snapshots(component, step)`,
	}
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}
