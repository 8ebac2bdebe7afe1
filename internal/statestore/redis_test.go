package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })
	return New(client, "linkeye:", zap.NewNop()), mr
}

func TestRedis_SaveAndLoad(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Ping(ctx))
	require.NoError(t, r.SaveHistory(ctx, "BOA100", []float64{10, 10.1, 13}))
	require.NoError(t, r.SaveHistory(ctx, "BOA:200", []float64{8}))
	require.NoError(t, r.SaveCooldown(ctx, alert.Cooldown{Detector: models.DetectorDrift, Serial: "BOA100", At: at}, 4*time.Hour))

	p, err := r.Load(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string][]float64{"BOA100": {10, 10.1, 13}, "BOA:200": {8}}, p.History)
	require.Len(t, p.Cooldowns, 1)
	assert.Equal(t, models.DetectorDrift, p.Cooldowns[0].Detector)
	assert.Equal(t, "BOA100", p.Cooldowns[0].Serial)
	assert.True(t, p.Cooldowns[0].At.Equal(at))
}

func TestRedis_CooldownExpires(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.SaveCooldown(ctx, alert.Cooldown{Detector: models.DetectorRapidJump, Serial: "BOA100", At: time.Now()}, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("linkeye:cooldown:rapid_jump:BOA100"))

	mr.FastForward(61 * time.Minute)

	p, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.Cooldowns)
}

func TestRedis_SkipsCorruptEntries(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("linkeye:history:BOA100", "{not json"))
	require.NoError(t, r.SaveHistory(ctx, "BOA200", []float64{5}))

	p, err := r.Load(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string][]float64{"BOA200": {5}}, p.History)
}

func TestRedis_RestoresEngineState(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, r.SaveHistory(ctx, "BOA100", []float64{10, 13}))
	require.NoError(t, r.SaveCooldown(ctx, alert.Cooldown{Detector: models.DetectorRapidJump, Serial: "BOA100", At: at}, time.Hour))

	engine := alert.NewEngine(alert.Deps{Backend: r}, nil, alert.Options{}, zap.NewNop())
	require.NoError(t, engine.Restore(ctx))

	assert.Equal(t, []float64{10, 13}, engine.State().History("BOA100"))
	last, ok := engine.State().LastFired(models.DetectorRapidJump, "BOA100")
	require.True(t, ok)
	assert.True(t, last.Equal(at))
}

func TestRedis_LoadFailsWhenUnreachable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.Load(context.Background())

	assert.Error(t, err)
}
