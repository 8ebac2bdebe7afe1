package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkeye/internal/models"
	"gorm.io/gorm"
)

var ErrPersistence = errors.New("loss history persistence failed")

// Store reads and writes the loss_history table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Append writes rows in one transaction.
func (s *Store) Append(ctx context.Context, rows []models.LossHistory) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 500).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// MinLossSince returns the lowest positive loss per origin serial recorded
// at or after since.
func (s *Store) MinLossSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	var rows []struct {
		OriginSerial string
		MinLoss      float64
	}
	err := s.db.WithContext(ctx).Model(&models.LossHistory{}).
		Select("origin_serial, MIN(loss) AS min_loss").
		Where("recorded_at >= ? AND loss > 0", since.UTC()).
		Group("origin_serial").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute loss baselines: %w", err)
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.OriginSerial] = r.MinLoss
	}
	return out, nil
}

// Series returns the samples for serial since the given time, oldest
// first.
func (s *Store) Series(ctx context.Context, serial string, since time.Time, limit int) ([]models.LossHistory, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	var rows []models.LossHistory
	err := s.db.WithContext(ctx).
		Where("origin_serial = ? AND recorded_at >= ?", serial, since.UTC()).
		Order("recorded_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read loss history for %s: %w", serial, err)
	}
	return rows, nil
}

// Purge deletes samples recorded before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("recorded_at < ?", cutoff.UTC()).Delete(&models.LossHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: purge: %v", ErrPersistence, res.Error)
	}
	return res.RowsAffected, nil
}
