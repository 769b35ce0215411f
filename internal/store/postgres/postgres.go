// Package postgres keeps the record store in a single jsonb table. Change
// notifications are process-local: every writer publishes into a ChangeHub, so
// subscriptions see the writes that flow through this instance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/enlaces-epn/callcenter/internal/store"
)

// Record is the persisted row shape, one row per path.
type Record struct {
	Path      string    `gorm:"primaryKey;column:path"`
	Value     []byte    `gorm:"column:value;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "records"
}

type Store struct {
	db  *gorm.DB
	hub *store.ChangeHub
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, hub: store.NewChangeHub()}
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	return rec.Value, nil
}

func (s *Store) Write(ctx context.Context, path string, value []byte) error {
	rec := Record{Path: path, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("write record %s: %w", path, err)
	}
	s.hub.Publish(store.Event{Path: path, Value: value})
	return nil
}

func (s *Store) Update(ctx context.Context, path string, partial map[string]interface{}) error {
	var merged []byte
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.Where("path = ?", path).First(&rec).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		merged, err = store.MergeJSON(rec.Value, partial)
		if err != nil {
			return err
		}

		out := Record{Path: path, Value: merged, UpdatedAt: time.Now().UTC()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&out).Error
	})
	if err != nil {
		return fmt.Errorf("update record %s: %w", path, err)
	}
	s.hub.Publish(store.Event{Path: path, Value: merged})
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	res := s.db.WithContext(ctx).Where("path = ?", path).Delete(&Record{})
	if res.Error != nil {
		return fmt.Errorf("remove record %s: %w", path, res.Error)
	}
	if res.RowsAffected > 0 {
		s.hub.Publish(store.Event{Path: path, Value: nil})
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	var recs []Record
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, "%", `\%`), "_", `\_`) + "/%"
	err := s.db.WithContext(ctx).Where("path LIKE ?", pattern).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", prefix, err)
	}

	out := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		out[rec.Path] = rec.Value
	}
	return out, nil
}

func (s *Store) Subscribe(_ context.Context, prefix string, handler func(store.Event)) (store.UnsubscribeFunc, error) {
	return s.hub.Subscribe(prefix, handler), nil
}
