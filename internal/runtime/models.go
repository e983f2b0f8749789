package runtime

import (
	"time"

	"gorm.io/gorm"
)

// KindState marks journal entries written alongside a snapshot save
const KindState = "state"

// JournalEntry is one appended event or state change of a component key
type JournalEntry struct {
	ID        uint      `gorm:"primaryKey"`
	Component string    `gorm:"not null;index:idx_journal_component_key,priority:1"`
	EntityKey string    `gorm:"not null;index:idx_journal_component_key,priority:2"`
	Kind      string    `gorm:"not null"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

// Snapshot holds the latest state of a component key.
// Step is the workflow step still to run, empty when none is pending.
type Snapshot struct {
	Component string `gorm:"primaryKey"`
	EntityKey string `gorm:"primaryKey"`
	Step      string `gorm:"index"`
	Payload   string `gorm:"type:text"`
	UpdatedAt time.Time
}

// ConsumerOffset is the last journal id a named consumer has handled
type ConsumerOffset struct {
	Consumer  string `gorm:"primaryKey"`
	Position  uint
	UpdatedAt time.Time
}

// Migrate creates the runtime tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&JournalEntry{}, &Snapshot{}, &ConsumerOffset{})
}
