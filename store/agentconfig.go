package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigSnapshot returns all agent configuration as an immutable map. The
// workflow engine loads one snapshot per run and never re-reads mid-run.
func (s *Store) ConfigSnapshot(ctx context.Context) (map[string]string, error) {
	var rows []AgentConfig
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load agent config: %w", err)
	}
	snapshot := make(map[string]string, len(rows))
	for _, row := range rows {
		snapshot[row.ConfigKey] = row.ConfigValue
	}
	return snapshot, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("config key is required")
	}
	var row AgentConfig
	err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return row.ConfigValue, nil
}

// SetConfig upserts one configuration key. Administrative only; running
// workflow runs keep the snapshot they started with.
func (s *Store) SetConfig(ctx context.Context, key, value, description string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("config key is required")
	}
	row := AgentConfig{
		ConfigKey:   key,
		ConfigValue: value,
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	}
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_value", "description", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// SeedDefaults installs the default prompt variants and thresholds, skipping
// keys an operator has already customized.
func (s *Store) SeedDefaults(ctx context.Context, defaults map[string]string) (int, error) {
	seeded := 0
	for key, value := range defaults {
		row := AgentConfig{ConfigKey: key, ConfigValue: value}
		var inserted int64
		err := withBusyRetry(func() error {
			res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "config_key"}},
				DoNothing: true,
			}).Create(&row)
			inserted = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return seeded, fmt.Errorf("seed config %q: %w", key, err)
		}
		seeded += int(inserted)
	}
	return seeded, nil
}
