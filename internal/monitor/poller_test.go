package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/settings"
	"github.com/linkeye/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	batch *telemetry.RawTelemetryBatch
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeSource) FetchPerformanceData(ctx context.Context) (*telemetry.RawTelemetryBatch, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.batch, f.err
}

type fakeIngester struct {
	cards []models.CardSnapshot
	err   error
	calls atomic.Int32
}

func (f *fakeIngester) Ingest(_ context.Context, cards []models.CardSnapshot) (int, error) {
	f.calls.Add(1)
	f.cards = cards
	if f.err != nil {
		return 0, f.err
	}
	return len(cards) * 2, nil
}

type fakeEngine struct {
	panics bool
	calls  atomic.Int32
}

func (f *fakeEngine) Evaluate(context.Context) (alert.CycleReport, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	return alert.CycleReport{Links: 1, Evaluated: 1, Fired: 1}, nil
}

type fakeScheduler struct {
	calls atomic.Int32
}

func (f *fakeScheduler) Tick(context.Context, time.Time) (bool, error) {
	f.calls.Add(1)
	return true, nil
}

type fakeSettings struct {
	interval time.Duration
}

func (f fakeSettings) Load(context.Context) (settings.Settings, error) {
	s := settings.Defaults()
	s.ScanInterval = f.interval
	return s, nil
}

type fixture struct {
	poller    *Poller
	source    *fakeSource
	ingester  *fakeIngester
	engine    *fakeEngine
	scheduler *fakeScheduler
}

func testBatch() *telemetry.RawTelemetryBatch {
	return &telemetry.RawTelemetryBatch{
		Fields: []telemetry.FieldMeta{
			{Name: telemetry.FieldSerial},
			{Name: telemetry.FieldModel},
			{Name: telemetry.FieldSite},
			{Name: models.MetricOutLinePower},
		},
		Records: []telemetry.RawRecord{
			{Values: []any{"BOA100", "BOA-23", "Paris", 2.5}},
			{Values: []any{"PRA200", "PRA-17", "Lyon", "-15.5"}},
			{Values: []any{"short"}},
			{Values: []any{"X1", "ROUTER", "Paris", 1.0}},
		},
	}
}

func newFixture(interval time.Duration) *fixture {
	f := &fixture{
		source:    &fakeSource{batch: testBatch()},
		ingester:  &fakeIngester{},
		engine:    &fakeEngine{},
		scheduler: &fakeScheduler{},
	}
	keep := func(model string) bool { return model != "ROUTER" }
	f.poller = NewPoller(f.source, f.ingester, f.engine, f.scheduler, fakeSettings{interval: interval}, keep, time.Second, zap.NewNop())
	return f
}

func TestPoller_RunCycle(t *testing.T) {
	f := newFixture(time.Minute)

	result := f.poller.RunCycle(context.Background())

	assert.True(t, result.Fetched)
	assert.Equal(t, 1, result.Dropped)
	assert.Len(t, f.ingester.cards, 2)
	assert.Equal(t, 4, result.Rows)
	assert.Equal(t, 1, result.Report.Fired)
	assert.True(t, result.HistoryWrote)
	assert.EqualValues(t, 1, f.engine.calls.Load())
	assert.EqualValues(t, 1, f.scheduler.calls.Load())

	m := f.poller.GetMetrics()
	assert.EqualValues(t, 1, m["total_cycles"])
	assert.EqualValues(t, 1, m["alerts_fired"])
}

func TestPoller_FetchFailureStillPersists(t *testing.T) {
	f := newFixture(time.Minute)
	f.source.err = errors.New("nms unreachable")

	result := f.poller.RunCycle(context.Background())

	assert.Error(t, result.FetchErr)
	assert.False(t, result.Fetched)
	assert.Zero(t, f.ingester.calls.Load())
	assert.Zero(t, f.engine.calls.Load())
	assert.EqualValues(t, 1, f.scheduler.calls.Load())
	assert.EqualValues(t, 1, f.poller.GetMetrics()["failed_fetches"])
}

func TestPoller_NilBatchSkipsCycle(t *testing.T) {
	f := newFixture(time.Minute)
	f.source.batch = nil

	result := f.poller.RunCycle(context.Background())

	assert.NoError(t, result.FetchErr)
	assert.Zero(t, f.ingester.calls.Load())
	assert.EqualValues(t, 1, f.scheduler.calls.Load())
}

func TestPoller_FetchTimeout(t *testing.T) {
	f := newFixture(time.Minute)
	f.source.block = true
	f.poller.fetchTimeout = 20 * time.Millisecond

	result := f.poller.RunCycle(context.Background())

	assert.ErrorIs(t, result.FetchErr, context.DeadlineExceeded)
	assert.Zero(t, f.ingester.calls.Load())
	assert.EqualValues(t, 1, f.scheduler.calls.Load())
}

func TestPoller_IngestFailureSkipsAlerting(t *testing.T) {
	f := newFixture(time.Minute)
	f.ingester.err = errors.New("disk full")

	result := f.poller.RunCycle(context.Background())

	assert.Error(t, result.IngestErr)
	assert.Zero(t, f.engine.calls.Load())
	assert.EqualValues(t, 1, f.scheduler.calls.Load())
}

func TestPoller_RecoversFromPanic(t *testing.T) {
	f := newFixture(time.Minute)
	f.engine.panics = true

	require.NotPanics(t, func() { f.poller.RunCycle(context.Background()) })

	assert.EqualValues(t, 1, f.scheduler.calls.Load())
	assert.EqualValues(t, 1, f.poller.GetMetrics()["failed_cycles"])
}

func TestPoller_StartStop(t *testing.T) {
	f := newFixture(10 * time.Millisecond)

	f.poller.Start(context.Background())
	assert.Eventually(t, func() bool { return f.source.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	f.poller.Stop()

	calls := f.source.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.source.calls.Load(), "no cycle after Stop")
	assert.Equal(t, "10ms", f.poller.GetMetrics()["scan_interval"])
}

func TestPoller_StopWithoutStart(t *testing.T) {
	f := newFixture(time.Minute)
	f.poller.Stop()
}
