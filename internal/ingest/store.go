package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/linkeye/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrIngestion is returned when a batch is rejected or could not be
// written. The previous snapshot stays in place.
var ErrIngestion = errors.New("ingestion error")

// MaxMetricSlots bounds how many metrics of a single card are stored.
const MaxMetricSlots = 20

const insertBatchSize = 500

// Store owns the current-snapshot table and its in-memory read cache.
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	s := &Store{db: db, logger: logger, now: time.Now}
	s.current.Store(NewSnapshot(nil, time.Time{}))
	return s
}

// Snapshot returns the latest complete snapshot. It never observes a
// partially applied batch.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Ingest replaces the snapshot table with cards inside one transaction and
// then swaps the read cache. An empty batch is refused so an empty upstream
// answer can never wipe the table.
func (s *Store) Ingest(ctx context.Context, cards []models.CardSnapshot) (int, error) {
	if len(cards) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrIngestion)
	}

	collectedAt := s.now().UTC()
	kept := make([]models.CardSnapshot, 0, len(cards))
	rows := make([]models.CardMetric, 0, len(cards)*4)
	for _, card := range cards {
		names := metricSlots(card.Metrics)
		if len(names) == 0 {
			continue
		}
		stored := models.CardSnapshot{
			Serial:    card.Serial,
			CardModel: card.CardModel,
			SiteName:  card.SiteName,
			Metrics:   make(map[string]float64, len(names)),
		}
		for _, name := range names {
			value := card.Metrics[name]
			stored.Metrics[name] = value
			rows = append(rows, models.CardMetric{
				Serial:      card.Serial,
				CardModel:   card.CardModel,
				SiteName:    card.SiteName,
				MetricName:  name,
				MetricValue: value,
				CollectedAt: collectedAt,
			})
		}
		kept = append(kept, stored)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: batch of %d cards carries no metrics", ErrIngestion, len(cards))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CardMetric{}).Error; err != nil {
			return fmt.Errorf("failed to clear snapshot table: %w", err)
		}
		if err := tx.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIngestion, err)
	}

	s.current.Store(NewSnapshot(kept, collectedAt))
	s.logger.Debug("Snapshot replaced",
		zap.Int("cards", len(kept)),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

// Warm rebuilds the read cache from the snapshot table, typically at
// startup before the first cycle has run.
func (s *Store) Warm(ctx context.Context) error {
	var rows []models.CardMetric
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load snapshot table: %w", err)
	}

	index := make(map[string]int)
	cards := make([]models.CardSnapshot, 0)
	var collectedAt time.Time
	for _, row := range rows {
		key := row.Serial + "\x00" + row.CardModel
		pos, ok := index[key]
		if !ok {
			pos = len(cards)
			index[key] = pos
			cards = append(cards, models.CardSnapshot{
				Serial:    row.Serial,
				CardModel: row.CardModel,
				SiteName:  row.SiteName,
				Metrics:   make(map[string]float64),
			})
		}
		cards[pos].Metrics[row.MetricName] = row.MetricValue
		if row.CollectedAt.After(collectedAt) {
			collectedAt = row.CollectedAt
		}
	}

	s.current.Store(NewSnapshot(cards, collectedAt))
	s.logger.Info("Snapshot cache warmed", zap.Int("cards", len(cards)))
	return nil
}

// metricSlots picks at most MaxMetricSlots metric names, line powers first
// and the rest in name order.
func metricSlots(metrics map[string]float64) []string {
	names := make([]string, 0, len(metrics))
	for _, priority := range []string{models.MetricOutLinePower, models.MetricInLinePower} {
		if _, ok := metrics[priority]; ok {
			names = append(names, priority)
		}
	}
	rest := make([]string, 0, len(metrics))
	for name := range metrics {
		if name == models.MetricOutLinePower || name == models.MetricInLinePower {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	names = append(names, rest...)
	if len(names) > MaxMetricSlots {
		names = names[:MaxMetricSlots]
	}
	return names
}
