package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkeye/internal/ingest"
	"github.com/linkeye/internal/loss"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/notify"
	"github.com/linkeye/internal/settings"
	"go.uber.org/zap"
)

type SettingsProvider interface {
	Load(ctx context.Context) (settings.Settings, error)
}

type Suppressions interface {
	IsInhibited(ctx context.Context, serial string) (bool, error)
	ActiveAcknowledgment(ctx context.Context, serial string, now time.Time) (*models.Acknowledgment, error)
}

type LinkSource interface {
	ListEnabled(ctx context.Context) ([]models.LinkDefinition, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) notify.DeliveryResult
}

type SnapshotSource interface {
	Snapshot() *ingest.Snapshot
}

// BaselineSource returns the lowest recorded loss per origin serial since
// the given time.
type BaselineSource interface {
	MinLossSince(ctx context.Context, since time.Time) (map[string]float64, error)
}

type Recorder interface {
	Record(ctx context.Context, alert *models.Alert) error
}

// Cooldown is a persisted cooldown marker.
type Cooldown struct {
	Detector models.Detector
	Serial   string
	At       time.Time
}

// Persisted is engine state reloaded after a restart.
type Persisted struct {
	History   map[string][]float64
	Cooldowns []Cooldown
}

// StateBackend keeps engine state across restarts.
type StateBackend interface {
	SaveHistory(ctx context.Context, serial string, values []float64) error
	SaveCooldown(ctx context.Context, c Cooldown, ttl time.Duration) error
	Load(ctx context.Context) (*Persisted, error)
}

// Deps are the engine's collaborators. Baselines, Recorder and Backend are
// optional.
type Deps struct {
	Settings     SettingsProvider
	Suppressions Suppressions
	Links        LinkSource
	Notifier     Notifier
	Snapshots    SnapshotSource
	Baselines    BaselineSource
	Recorder     Recorder
	Backend      StateBackend
}

// DefaultAckDuration is how long an accepted loss level silences drift.
const DefaultAckDuration = 24 * time.Hour

type Options struct {
	Calculator        loss.Calculator
	RapidCooldown     time.Duration
	DriftCooldown     time.Duration
	ThresholdCooldown time.Duration
	BaselineRefresh   time.Duration
	AckDuration       time.Duration
}

func (o *Options) setDefaults() {
	if o.RapidCooldown <= 0 {
		o.RapidCooldown = time.Hour
	}
	if o.DriftCooldown <= 0 {
		o.DriftCooldown = 4 * time.Hour
	}
	if o.ThresholdCooldown <= 0 {
		o.ThresholdCooldown = time.Hour
	}
	if o.BaselineRefresh <= 0 {
		o.BaselineRefresh = 30 * time.Minute
	}
	if o.AckDuration <= 0 {
		o.AckDuration = DefaultAckDuration
	}
}

// CycleReport counts what one Evaluate call did.
type CycleReport struct {
	Links      int
	Evaluated  int
	Inhibited  int
	Skipped    int
	Fired      int
	Suppressed int
}

// Engine runs the detectors for every enabled link once per cycle.
type Engine struct {
	deps   Deps
	opts   Options
	state  *State
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewEngine(deps Deps, state *State, opts Options, logger *zap.Logger) *Engine {
	opts.setDefaults()
	if state == nil {
		state = NewState()
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		state:  state,
		logger: logger,
		now:    time.Now,
	}
}

func (e *Engine) State() *State {
	return e.state
}

// Restore reloads history windows and cooldown markers from the backend.
func (e *Engine) Restore(ctx context.Context) error {
	if e.deps.Backend == nil {
		return nil
	}
	p, err := e.deps.Backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore alert state: %w", err)
	}
	for serial, values := range p.History {
		e.state.SetHistory(serial, values)
	}
	for _, c := range p.Cooldowns {
		e.state.Stamp(c.Detector, c.Serial, c.At)
	}
	e.logger.Info("Alert state restored",
		zap.Int("histories", len(p.History)),
		zap.Int("cooldowns", len(p.Cooldowns)))
	return nil
}

// Evaluate runs one alerting cycle. Only failures to load the settings or
// the link list are returned; per-link problems are logged and skipped.
func (e *Engine) Evaluate(ctx context.Context) (CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report CycleReport
	set, err := e.deps.Settings.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load settings: %w", err)
	}
	links, err := e.deps.Links.ListEnabled(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load links: %w", err)
	}
	report.Links = len(links)

	now := e.now()
	e.refreshBaselines(ctx, set, now)

	view := e.deps.Snapshots.Snapshot()
	if view == nil {
		return report, nil
	}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.evaluateLink(ctx, link, set, view, now, &report)
	}
	return report, nil
}

func (e *Engine) refreshBaselines(ctx context.Context, set settings.Settings, now time.Time) {
	if e.deps.Baselines == nil || !e.state.baselinesStale(now, e.opts.BaselineRefresh) {
		return
	}
	baselines, err := e.deps.Baselines.MinLossSince(ctx, now.Add(-set.DriftWindow))
	if err != nil {
		e.logger.Warn("Failed to refresh drift baselines", zap.Error(err))
		return
	}
	e.state.SetBaselines(baselines, now)
}

func (e *Engine) evaluateLink(ctx context.Context, link models.LinkDefinition, set settings.Settings, view loss.SnapshotView, now time.Time, report *CycleReport) {
	serial := link.OriginSerial
	log := e.logger.With(zap.String("link", link.Name()), zap.String("origin", serial))

	inhibited, err := e.deps.Suppressions.IsInhibited(ctx, serial)
	if err != nil {
		log.Warn("Failed to check inhibition", zap.Error(err))
		report.Skipped++
		return
	}
	if inhibited {
		report.Inhibited++
		return
	}

	res, err := e.opts.Calculator.Evaluate(link, view)
	if err != nil {
		level := log.Debug
		if !errors.Is(err, loss.ErrCalculationIncomplete) {
			level = log.Info
		}
		level("Link skipped", zap.Error(err))
		report.Skipped++
		return
	}
	if res.FallbackPair {
		log.Warn("Destination paired with same-family amplifier",
			zap.String("target_model", res.Target.CardModel))
	}
	current := res.CurrentLoss
	if !link.IsSingle && current < loss.MinPlausibleLoss {
		log.Debug("Implausible loss ignored", zap.Float64("loss", current))
		report.Skipped++
		return
	}
	report.Evaluated++

	history := e.state.History(serial)
	e.checkRapidJump(ctx, link, history, current, set, now, report)
	e.checkDrift(ctx, link, current, set, now, report)
	e.checkThreshold(ctx, link, current, set, now, report)

	window := e.state.Push(serial, current)
	if e.deps.Backend != nil {
		if err := e.deps.Backend.SaveHistory(ctx, serial, window); err != nil {
			log.Warn("Failed to persist loss history window", zap.Error(err))
		}
	}
}

func (e *Engine) checkRapidJump(ctx context.Context, link models.LinkDefinition, history []float64, current float64, set settings.Settings, now time.Time, report *CycleReport) {
	serial := link.OriginSerial
	p := RapidParams{
		Increase: set.RapidIncreaseThreshold,
		Jitter:   set.JitterThreshold,
		Window:   set.ConfirmationWindow(),
	}

	pending, confirming := e.state.pendingJump(serial)
	if confirming && current < pending.baseline+p.Increase-p.Jitter {
		e.state.clearPending(serial)
		e.logger.Info("Loss jump not sustained, ignored",
			zap.String("origin", serial),
			zap.Float64("loss", current),
			zap.Float64("baseline", pending.baseline))
		return
	}

	res := EvaluateRapidJump(history, current, confirming, p)
	switch res.Outcome {
	case RapidInsufficientSamples, RapidNotSustained:
		if !confirming {
			pending = pendingJump{baseline: history[len(history)-1]}
		}
		pending.cycles++
		if pending.cycles > HistorySize {
			e.state.clearPending(serial)
			return
		}
		e.state.setPending(serial, pending)
		e.logger.Debug("Loss jump awaiting confirmation",
			zap.String("origin", serial),
			zap.Stringer("outcome", res.Outcome),
			zap.Float64("jump", res.Jump))
	case RapidSustained:
		e.state.clearPending(serial)
		e.fire(ctx, link, rapidJumpMessage(link, res, current), e.opts.RapidCooldown, set, now, report)
	}
}

func (e *Engine) checkDrift(ctx context.Context, link models.LinkDefinition, current float64, set settings.Settings, now time.Time, report *CycleReport) {
	serial := link.OriginSerial
	baseline, ok := e.state.Baseline(serial)
	if !ok || baseline <= 0 || current-baseline < set.DriftThreshold {
		return
	}

	ack, err := e.deps.Suppressions.ActiveAcknowledgment(ctx, serial, now)
	if err != nil {
		e.logger.Warn("Failed to read acknowledgment", zap.String("origin", serial), zap.Error(err))
		ack = nil
	}

	res := EvaluateDrift(baseline, current, set.DriftThreshold, ack, now)
	switch res.Outcome {
	case DriftAcknowledged:
		e.logger.Debug("Drift covered by acknowledgment",
			zap.String("origin", serial),
			zap.Float64("loss", current),
			zap.Float64("acknowledged", ack.AcknowledgedLoss))
	case DriftExceeded:
		e.fire(ctx, link, driftMessage(link, res, current, e.opts.AckDuration), e.opts.DriftCooldown, set, now, report)
	}
}

func (e *Engine) checkThreshold(ctx context.Context, link models.LinkDefinition, current float64, set settings.Settings, now time.Time, report *CycleReport) {
	limit, ok := ThresholdLimit(link, set.LossThresholdDb)
	if !ok || current <= limit {
		return
	}
	e.fire(ctx, link, thresholdMessage(link, current, limit), e.opts.ThresholdCooldown, set, now, report)
}

// fire sends msg unless the detector is cooling down for this origin. In a
// maintenance window the alert is only recorded.
func (e *Engine) fire(ctx context.Context, link models.LinkDefinition, msg notify.Message, cooldown time.Duration, set settings.Settings, now time.Time, report *CycleReport) {
	serial := link.OriginSerial
	if !e.state.CooldownElapsed(msg.Detector, serial, now, cooldown) {
		e.logger.Debug("Alert in cooldown",
			zap.String("origin", serial),
			zap.String("detector", string(msg.Detector)))
		report.Suppressed++
		return
	}

	msg.EventID = uuid.NewString()
	msg.LinkID = link.ID
	msg.LinkName = link.Name()
	msg.OriginSerial = serial
	msg.FiredAt = now

	record := &models.Alert{
		EventID:      msg.EventID,
		LinkID:       link.ID,
		LinkName:     msg.LinkName,
		OriginSerial: serial,
		Detector:     msg.Detector,
		Level:        msg.Level,
		CurrentLoss:  msg.CurrentLoss,
		Reference:    msg.Reference,
		Delta:        msg.Delta,
		Message:      msg.Text,
		FiredAt:      now,
	}

	if set.InMaintenance(now) {
		record.Suppressed = true
		e.record(ctx, record)
		e.logger.Info("Alert held back by maintenance window",
			zap.String("origin", serial),
			zap.String("detector", string(msg.Detector)))
		report.Suppressed++
		return
	}

	result := e.deps.Notifier.Notify(ctx, msg)
	if err := result.Err(); err != nil {
		e.logger.Warn("Alert delivery incomplete",
			zap.String("event_id", msg.EventID),
			zap.Strings("delivered", result.Delivered),
			zap.Error(err))
	}

	e.state.Stamp(msg.Detector, serial, now)
	if e.deps.Backend != nil {
		c := Cooldown{Detector: msg.Detector, Serial: serial, At: now}
		if err := e.deps.Backend.SaveCooldown(ctx, c, cooldown); err != nil {
			e.logger.Warn("Failed to persist cooldown", zap.String("origin", serial), zap.Error(err))
		}
	}
	e.record(ctx, record)
	report.Fired++

	e.logger.Info("Alert fired",
		zap.String("event_id", msg.EventID),
		zap.String("origin", serial),
		zap.String("detector", string(msg.Detector)),
		zap.Float64("loss", msg.CurrentLoss))
}

func (e *Engine) record(ctx context.Context, a *models.Alert) {
	if e.deps.Recorder == nil {
		return
	}
	if err := e.deps.Recorder.Record(ctx, a); err != nil {
		e.logger.Warn("Failed to record alert", zap.String("event_id", a.EventID), zap.Error(err))
	}
}
