package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/linkeye/internal/models"
	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes the settings table.
type Store struct {
	db       *gorm.DB
	defaults Settings
}

func NewStore(db *gorm.DB, defaults Settings) *Store {
	return &Store{db: db, defaults: defaults}
}

// Load returns the defaults overlaid with every stored value. A value that
// cannot be parsed is an error: callers decide whether to keep going with
// the previous settings or to stop.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	out := s.defaults
	for _, row := range rows {
		if err := apply(&out, row.Key, row.Value); err != nil {
			return Settings{}, fmt.Errorf("setting %s=%q: %w", row.Key, row.Value, err)
		}
	}
	out.DriftWindow = clampDriftWindow(out.DriftWindow)
	return out, nil
}

// Set stores one raw value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	row := models.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// SetNextRun stores the persistence scheduler's next run as epoch millis.
func (s *Store) SetNextRun(ctx context.Context, at time.Time) error {
	return s.Set(ctx, KeyPersistNextRunAt, strconv.FormatInt(at.UnixMilli(), 10))
}

// Raw returns the stored rows as they are.
func (s *Store) Raw(ctx context.Context) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Check validates an operator-supplied value. Keys owned by the engine
// itself are not writable.
func Check(key, value string) error {
	switch key {
	case KeyPersistNextRunAt:
		return fmt.Errorf("setting %s is managed by the scheduler", key)
	case KeyScanIntervalMinutes, KeyLossThresholdDb, KeyAlertRapidIncreaseThreshold,
		KeyAlertConfirmationSamples, KeyAlertJitterThreshold, KeyAlertDriftWindowHours,
		KeyAlertDriftThreshold, KeyMaintenanceMode, KeyMaintenanceUntil,
		KeyPersistIntervalMs, KeyHistoryRetentionDays:
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	scratch := Defaults()
	if err := apply(&scratch, key, value); err != nil {
		return fmt.Errorf("setting %s=%q: %w", key, value, err)
	}
	return nil
}

func apply(s *Settings, key, value string) error {
	var err error
	switch key {
	case KeyScanIntervalMinutes:
		var minutes float64
		if minutes, err = cast.ToFloat64E(value); err == nil {
			if minutes <= 0 {
				return fmt.Errorf("must be positive")
			}
			s.ScanInterval = time.Duration(minutes * float64(time.Minute))
		}
	case KeyLossThresholdDb:
		s.LossThresholdDb, err = cast.ToFloat64E(value)
	case KeyAlertRapidIncreaseThreshold:
		s.RapidIncreaseThreshold, err = cast.ToFloat64E(value)
	case KeyAlertConfirmationSamples:
		s.ConfirmationSamples, err = cast.ToIntE(value)
	case KeyAlertJitterThreshold:
		s.JitterThreshold, err = cast.ToFloat64E(value)
	case KeyAlertDriftWindowHours:
		var hours float64
		if hours, err = cast.ToFloat64E(value); err == nil {
			s.DriftWindow = time.Duration(hours * float64(time.Hour))
		}
	case KeyAlertDriftThreshold:
		s.DriftThreshold, err = cast.ToFloat64E(value)
	case KeyMaintenanceMode:
		s.MaintenanceMode, err = cast.ToBoolE(value)
	case KeyMaintenanceUntil:
		if value == "" {
			s.MaintenanceUntil = time.Time{}
			return nil
		}
		s.MaintenanceUntil, err = cast.ToTimeE(value)
	case KeyPersistIntervalMs:
		var ms int64
		if ms, err = cast.ToInt64E(value); err == nil {
			if ms <= 0 {
				return fmt.Errorf("must be positive")
			}
			s.PersistInterval = time.Duration(ms) * time.Millisecond
		}
	case KeyPersistNextRunAt:
		var ms int64
		if ms, err = cast.ToInt64E(value); err == nil {
			s.PersistNextRunAt = time.UnixMilli(ms).UTC()
		}
	case KeyHistoryRetentionDays:
		var days int
		if days, err = cast.ToIntE(value); err == nil {
			s.HistoryRetention = time.Duration(days) * 24 * time.Hour
		}
	}
	return err
}
