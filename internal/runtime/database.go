package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is an event to append to the journal
type Record struct {
	Kind    string
	Payload any
}

// Store persists journals, snapshots and consumer offsets
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for projections sharing the database
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Append writes records for key atomically and in order
func (s *Store) Append(ctx context.Context, component, key string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	entries := make([]JournalEntry, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", r.Kind, err)
		}
		entries = append(entries, JournalEntry{
			Component: component,
			EntityKey: key,
			Kind:      r.Kind,
			Payload:   string(payload),
			CreatedAt: time.Now(),
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&entries).Error
	})
}

// Events returns the journal of key in append order
func (s *Store) Events(ctx context.Context, component, key string) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.db.WithContext(ctx).
		Where("component = ? AND entity_key = ?", component, key).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EntriesAfter returns up to limit entries of component with id greater than after
func (s *Store) EntriesAfter(ctx context.Context, component string, after uint, limit int) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.db.WithContext(ctx).
		Where("component = ? AND id > ?", component, after).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Head returns the id of the newest journal entry of component, 0 when empty
func (s *Store) Head(ctx context.Context, component string) (uint, error) {
	var head sql.NullInt64
	row := s.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Where("component = ?", component).
		Select("MAX(id)").
		Row()
	if err := row.Scan(&head); err != nil {
		return 0, err
	}
	return uint(head.Int64), nil
}

// SaveSnapshot overwrites the state of key and journals the change
func (s *Store) SaveSnapshot(ctx context.Context, component, key, step string, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode %s state: %w", component, err)
	}

	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := Snapshot{
			Component: component,
			EntityKey: key,
			Step:      step,
			Payload:   string(payload),
			UpdatedAt: now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "component"}, {Name: "entity_key"}},
			UpdateAll: true,
		}).Create(&snap).Error
		if err != nil {
			return err
		}

		return tx.Create(&JournalEntry{
			Component: component,
			EntityKey: key,
			Kind:      KindState,
			Payload:   string(payload),
			CreatedAt: now,
		}).Error
	})
}

// LoadSnapshot decodes the state of key into state.
// It reports false when nothing was saved for key yet.
func (s *Store) LoadSnapshot(ctx context.Context, component, key string, state any) (bool, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).
		Where("component = ? AND entity_key = ?", component, key).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(snap.Payload), state); err != nil {
		return false, fmt.Errorf("failed to decode %s state: %w", component, err)
	}
	return true, nil
}

// PendingSnapshots returns snapshots of component with a workflow step still to run
func (s *Store) PendingSnapshots(ctx context.Context, component string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.WithContext(ctx).
		Where("component = ? AND step <> ''", component).
		Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// LoadPosition returns the last journal id handled by consumer
func (s *Store) LoadPosition(ctx context.Context, consumer string) (uint, error) {
	var off ConsumerOffset
	err := s.db.WithContext(ctx).Where("consumer = ?", consumer).First(&off).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return off.Position, nil
}

// SavePosition records the last journal id handled by consumer
func (s *Store) SavePosition(ctx context.Context, consumer string, position uint) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer"}},
		UpdateAll: true,
	}).Create(&ConsumerOffset{
		Consumer:  consumer,
		Position:  position,
		UpdatedAt: time.Now(),
	}).Error
}
