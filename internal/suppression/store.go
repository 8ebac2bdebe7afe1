package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkeye/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store keeps inhibitions and drift acknowledgments per origin serial.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) IsInhibited(ctx context.Context, serial string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Inhibition{}).Where("origin_serial = ?", serial).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check inhibition for %s: %w", serial, err)
	}
	return count > 0, nil
}

// Inhibit silences serial. Inhibiting twice keeps the first record.
func (s *Store) Inhibit(ctx context.Context, serial, reason, by string) error {
	row := models.Inhibition{OriginSerial: serial, Reason: reason, CreatedBy: by}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to inhibit %s: %w", serial, err)
	}
	return nil
}

func (s *Store) ClearInhibition(ctx context.Context, serial string) error {
	err := s.db.WithContext(ctx).Where("origin_serial = ?", serial).Delete(&models.Inhibition{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear inhibition for %s: %w", serial, err)
	}
	return nil
}

func (s *Store) ListInhibitions(ctx context.Context) ([]models.Inhibition, error) {
	var rows []models.Inhibition
	if err := s.db.WithContext(ctx).Order("origin_serial").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list inhibitions: %w", err)
	}
	return rows, nil
}

// SetAcknowledgment records that loss is accepted for serial until
// expiresAt, replacing any earlier acknowledgment.
func (s *Store) SetAcknowledgment(ctx context.Context, serial string, loss float64, expiresAt time.Time, by string) error {
	row := models.Acknowledgment{
		OriginSerial:     serial,
		AcknowledgedLoss: loss,
		ExpiresAt:        expiresAt.UTC(),
		CreatedBy:        by,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "origin_serial"}},
		DoUpdates: clause.AssignmentColumns([]string{"acknowledged_loss", "expires_at", "created_by", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to acknowledge %s: %w", serial, err)
	}
	return nil
}

// ActiveAcknowledgment returns nil when serial has no unexpired
// acknowledgment.
func (s *Store) ActiveAcknowledgment(ctx context.Context, serial string, now time.Time) (*models.Acknowledgment, error) {
	var ack models.Acknowledgment
	err := s.db.WithContext(ctx).Where("origin_serial = ? AND expires_at > ?", serial, now.UTC()).First(&ack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read acknowledgment for %s: %w", serial, err)
	}
	return &ack, nil
}

func (s *Store) ClearAcknowledgment(ctx context.Context, serial string) error {
	err := s.db.WithContext(ctx).Where("origin_serial = ?", serial).Delete(&models.Acknowledgment{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear acknowledgment for %s: %w", serial, err)
	}
	return nil
}
