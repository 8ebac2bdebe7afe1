package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/settings"
	"github.com/linkeye/internal/telemetry"
	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Minute

type Source interface {
	FetchPerformanceData(ctx context.Context) (*telemetry.RawTelemetryBatch, error)
}

type Ingester interface {
	Ingest(ctx context.Context, cards []models.CardSnapshot) (int, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context) (alert.CycleReport, error)
}

type Scheduler interface {
	Tick(ctx context.Context, now time.Time) (bool, error)
}

type SettingsProvider interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Poller runs the ingest, alert and persist cycle. Cycles never overlap:
// the next timer is armed only after the previous cycle returned.
type Poller struct {
	source       Source
	ingester     Ingester
	engine       Evaluator
	scheduler    Scheduler
	settings     SettingsProvider
	keep         func(model string) bool
	fetchTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	metrics  *PollerMetrics
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

type PollerMetrics struct {
	mutex               sync.RWMutex
	totalCycles         uint64
	failedFetches       uint64
	failedCycles        uint64
	totalProcessingTime time.Duration
	lastCycleAt         time.Time
	lastRows            int
	alertsFired         uint64
	interval            time.Duration
}

// CycleResult describes one cycle.
type CycleResult struct {
	Fetched      bool
	Dropped      int
	Rows         int
	Report       alert.CycleReport
	HistoryWrote bool
	FetchErr     error
	IngestErr    error
	AlertErr     error
	PersistErr   error
}

func NewPoller(source Source, ingester Ingester, engine Evaluator, scheduler Scheduler, settingsProvider SettingsProvider,
	keep func(model string) bool, fetchTimeout time.Duration, logger *zap.Logger) *Poller {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Poller{
		source:       source,
		ingester:     ingester,
		engine:       engine,
		scheduler:    scheduler,
		settings:     settingsProvider,
		keep:         keep,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		now:          time.Now,
		metrics:      &PollerMetrics{interval: defaultInterval},
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs a first cycle right away and then keeps polling in the
// background until Stop is called or ctx ends.
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)
		for {
			p.RunCycle(ctx)

			timer := time.NewTimer(p.interval(ctx))
			select {
			case <-timer.C:
			case <-p.stopChan:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

// Stop ends the loop and waits for a running cycle to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	if p.started.Load() {
		<-p.done
	}
}

// interval re-reads the scan interval so changes apply on the next cycle.
func (p *Poller) interval(ctx context.Context) time.Duration {
	set, err := p.settings.Load(ctx)
	p.metrics.mutex.Lock()
	defer p.metrics.mutex.Unlock()
	if err != nil {
		p.logger.Warn("Failed to read scan interval, keeping previous", zap.Error(err))
		return p.metrics.interval
	}
	if set.ScanInterval > 0 {
		p.metrics.interval = set.ScanInterval
	}
	return p.metrics.interval
}

// RunCycle performs one ingest, alert and persist pass. Persistence is
// attempted even when no new data arrived.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	var result CycleResult

	p.guard("ingest", func() { p.ingestAndAlert(ctx, &result) })
	p.guard("persist", func() {
		result.HistoryWrote, result.PersistErr = p.scheduler.Tick(ctx, p.now())
		if result.PersistErr != nil {
			p.logger.Error("Persistence tick failed", zap.Error(result.PersistErr))
		}
	})

	p.metrics.mutex.Lock()
	p.metrics.totalCycles++
	p.metrics.totalProcessingTime += time.Since(start)
	p.metrics.lastCycleAt = start
	if result.FetchErr != nil {
		p.metrics.failedFetches++
	}
	if result.IngestErr != nil || result.AlertErr != nil {
		p.metrics.failedCycles++
	}
	if result.Rows > 0 {
		p.metrics.lastRows = result.Rows
	}
	p.metrics.alertsFired += uint64(result.Report.Fired)
	p.metrics.mutex.Unlock()

	return result
}

func (p *Poller) ingestAndAlert(ctx context.Context, result *CycleResult) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	batch, err := p.source.FetchPerformanceData(fetchCtx)
	cancel()
	if err != nil {
		result.FetchErr = err
		p.logger.Warn("No telemetry this cycle", zap.Error(err))
		return
	}
	if batch == nil {
		return
	}
	result.Fetched = true

	cards, dropped := telemetry.Pivot(batch, p.keep)
	result.Dropped = dropped
	if dropped > 0 {
		p.logger.Warn("Dropped malformed telemetry records", zap.Int("dropped", dropped))
	}

	rows, err := p.ingester.Ingest(ctx, cards)
	if err != nil {
		result.IngestErr = err
		p.logger.Error("Ingestion failed, alerting skipped", zap.Error(err))
		return
	}
	result.Rows = rows

	report, err := p.engine.Evaluate(ctx)
	result.Report = report
	if err != nil {
		result.AlertErr = err
		p.logger.Error("Alert evaluation failed", zap.Error(err))
		return
	}
	p.logger.Info("Cycle complete",
		zap.Int("cards", len(cards)),
		zap.Int("rows", rows),
		zap.Int("links", report.Links),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("fired", report.Fired))
}

func (p *Poller) guard(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Cycle stage panicked",
				zap.String("stage", stage),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
			p.metrics.mutex.Lock()
			p.metrics.failedCycles++
			p.metrics.mutex.Unlock()
		}
	}()
	fn()
}

func (p *Poller) GetMetrics() map[string]interface{} {
	p.metrics.mutex.RLock()
	defer p.metrics.mutex.RUnlock()

	avg := 0.0
	if p.metrics.totalCycles > 0 {
		avg = p.metrics.totalProcessingTime.Seconds() / float64(p.metrics.totalCycles)
	}
	return map[string]interface{}{
		"total_cycles":        p.metrics.totalCycles,
		"failed_fetches":      p.metrics.failedFetches,
		"failed_cycles":       p.metrics.failedCycles,
		"avg_processing_time": avg,
		"last_cycle_at":       p.metrics.lastCycleAt,
		"last_rows":           p.metrics.lastRows,
		"alerts_fired":        p.metrics.alertsFired,
		"scan_interval":       p.metrics.interval.String(),
		"goroutines":          runtime.NumGoroutine(),
	}
}
