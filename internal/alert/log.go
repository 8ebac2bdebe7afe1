package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/linkeye/internal/models"
	"gorm.io/gorm"
)

// Log stores fired alerts in the alerts table.
type Log struct {
	db *gorm.DB
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

func (l *Log) Record(ctx context.Context, a *models.Alert) error {
	if err := l.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

type ListFilter struct {
	OriginSerial string
	Detector     models.Detector
	Since        time.Time
	Limit        int
}

// List returns the newest alerts first.
func (l *Log) List(ctx context.Context, f ListFilter) ([]models.Alert, error) {
	q := l.db.WithContext(ctx).Model(&models.Alert{})
	if f.OriginSerial != "" {
		q = q.Where("origin_serial = ?", f.OriginSerial)
	}
	if f.Detector != "" {
		q = q.Where("detector = ?", f.Detector)
	}
	if !f.Since.IsZero() {
		q = q.Where("fired_at >= ?", f.Since)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var alerts []models.Alert
	if err := q.Order("fired_at DESC, id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}
