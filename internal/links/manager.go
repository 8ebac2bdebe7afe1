package links

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linkeye/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("link not found")

// Manager stores link definitions.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

func (m *Manager) Create(ctx context.Context, link *models.LinkDefinition) error {
	if err := Validate(*link); err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("failed to create link %s: %w", link.OriginSerial, err)
	}
	return nil
}

func (m *Manager) Update(ctx context.Context, link *models.LinkDefinition) error {
	if err := Validate(*link); err != nil {
		return err
	}
	if err := m.db.WithContext(ctx).Save(link).Error; err != nil {
		return fmt.Errorf("failed to update link %s: %w", link.OriginSerial, err)
	}
	return nil
}

func (m *Manager) Delete(ctx context.Context, id uint) error {
	res := m.db.WithContext(ctx).Delete(&models.LinkDefinition{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete link %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, id uint) (*models.LinkDefinition, error) {
	var link models.LinkDefinition
	if err := m.db.WithContext(ctx).First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// List returns every link, or only those matching enabled when it is set.
func (m *Manager) List(ctx context.Context, enabled *bool) ([]models.LinkDefinition, error) {
	var links []models.LinkDefinition
	query := m.db.WithContext(ctx).Order("id")
	if enabled != nil {
		query = query.Where("enabled = ?", *enabled)
	}
	if err := query.Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return links, nil
}

func (m *Manager) ListEnabled(ctx context.Context) ([]models.LinkDefinition, error) {
	enabled := true
	return m.List(ctx, &enabled)
}

func (m *Manager) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	res := m.db.WithContext(ctx).Model(&models.LinkDefinition{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Import upserts defs by origin serial in one transaction. Nothing is
// written when any definition is invalid.
func (m *Manager) Import(ctx context.Context, defs []models.LinkDefinition) (int, error) {
	for _, d := range defs {
		if err := Validate(d); err != nil {
			return 0, err
		}
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range defs {
			defs[i].ID = 0
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "origin_serial"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"dest_serial", "alias", "raman_calibration", "loss_reference",
					"alert_margin", "is_single", "enabled", "updated_at",
				}),
			}).Create(&defs[i]).Error
			if err != nil {
				return fmt.Errorf("failed to import link %s: %w", defs[i].OriginSerial, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(defs), nil
}

type importFile struct {
	Links []models.LinkDefinition `yaml:"links"`
}

// ParseYAML reads a link import file. Links are enabled unless the file
// says otherwise.
func ParseYAML(data []byte) ([]models.LinkDefinition, error) {
	var raw struct {
		Links []yaml.Node `yaml:"links"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse link file: %w", err)
	}

	defs := make([]models.LinkDefinition, 0, len(raw.Links))
	for i, node := range raw.Links {
		def := models.LinkDefinition{Enabled: true}
		if err := node.Decode(&def); err != nil {
			return nil, fmt.Errorf("link %d: %w", i+1, err)
		}
		def.OriginSerial = strings.TrimSpace(def.OriginSerial)
		def.DestSerial = strings.TrimSpace(def.DestSerial)
		defs = append(defs, def)
	}
	return defs, nil
}

// MarshalYAML writes links in the import format.
func MarshalYAML(defs []models.LinkDefinition) ([]byte, error) {
	return yaml.Marshal(importFile{Links: defs})
}

func Validate(l models.LinkDefinition) error {
	if l.OriginSerial == "" {
		return fmt.Errorf("origin serial is required")
	}
	if !l.IsSingle && l.DestSerial == "" {
		return fmt.Errorf("link %s: destination serial is required for dual-ended links", l.OriginSerial)
	}
	if l.RamanCalibration < 0 || l.LossReference < 0 || l.AlertMargin < 0 {
		return fmt.Errorf("link %s: negative values are not allowed", l.OriginSerial)
	}
	return nil
}
