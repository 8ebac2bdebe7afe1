package history

import (
	"context"
	"fmt"
	"time"

	"github.com/linkeye/internal/ingest"
	"github.com/linkeye/internal/loss"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/settings"
	"go.uber.org/zap"
)

type SettingsStore interface {
	Load(ctx context.Context) (settings.Settings, error)
	SetNextRun(ctx context.Context, at time.Time) error
}

type LinkSource interface {
	ListEnabled(ctx context.Context) ([]models.LinkDefinition, error)
}

type SnapshotSource interface {
	Snapshot() *ingest.Snapshot
}

// Scheduler writes every link's current loss to the history table at the
// interval stored in settings.
type Scheduler struct {
	settings   SettingsStore
	links      LinkSource
	snapshots  SnapshotSource
	store      *Store
	calculator loss.Calculator
	logger     *zap.Logger
}

func NewScheduler(settingsStore SettingsStore, links LinkSource, snapshots SnapshotSource, store *Store, calculator loss.Calculator, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		settings:   settingsStore,
		links:      links,
		snapshots:  snapshots,
		store:      store,
		calculator: calculator,
		logger:     logger,
	}
}

// Validate fails when the stored scheduler state cannot be read.
func (s *Scheduler) Validate(ctx context.Context) error {
	if _, err := s.settings.Load(ctx); err != nil {
		return fmt.Errorf("persistence scheduler state unreadable: %w", err)
	}
	return nil
}

// Tick persists a snapshot when the next run is due. The next run is always
// rescheduled once due, even if writing the snapshot or purging failed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (bool, error) {
	set, err := s.settings.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read scheduler state: %w", err)
	}
	if now.Before(set.PersistNextRunAt) {
		return false, nil
	}

	written, snapErr := s.persistSnapshot(ctx, now)
	if snapErr != nil {
		s.logger.Error("Loss history snapshot failed", zap.Error(snapErr))
	}

	// The interval may have changed while the snapshot was written.
	if fresh, err := s.settings.Load(ctx); err == nil {
		set = fresh
	}
	next := now.Add(set.PersistInterval)
	if err := s.settings.SetNextRun(ctx, next); err != nil {
		return true, fmt.Errorf("failed to schedule next history snapshot: %w", err)
	}

	if set.HistoryRetention > 0 {
		purged, err := s.store.Purge(ctx, now.Add(-set.HistoryRetention))
		if err != nil {
			s.logger.Error("Loss history purge failed", zap.Error(err))
		} else if purged > 0 {
			s.logger.Info("Loss history purged", zap.Int64("rows", purged))
		}
	}

	s.logger.Info("Loss history snapshot",
		zap.Int("links", written),
		zap.Time("next_run", next))
	return true, snapErr
}

func (s *Scheduler) persistSnapshot(ctx context.Context, now time.Time) (int, error) {
	links, err := s.links.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	view := s.snapshots.Snapshot()
	if view == nil {
		return 0, nil
	}

	rows := make([]models.LossHistory, 0, len(links))
	for _, link := range links {
		res, err := s.calculator.Evaluate(link, view)
		if err != nil {
			continue
		}
		if !link.IsSingle && res.CurrentLoss < loss.MinPlausibleLoss {
			continue
		}
		rows = append(rows, models.LossHistory{
			LinkID:       link.ID,
			OriginSerial: link.OriginSerial,
			Loss:         res.CurrentLoss,
			RecordedAt:   now.UTC(),
		})
	}
	if err := s.store.Append(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
