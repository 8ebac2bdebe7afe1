package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/models"
	"go.uber.org/zap"
)

// historyTTL bounds how long a window survives without updates, e.g. after
// a link is removed.
const historyTTL = 7 * 24 * time.Hour

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Redis keeps alert engine state in Redis so cooldowns and history windows
// survive a restart.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func New(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, logger: logger}
}

type historyEntry struct {
	Serial string    `json:"serial"`
	Values []float64 `json:"values"`
}

type cooldownEntry struct {
	Detector string `json:"detector"`
	Serial   string `json:"serial"`
	At       int64  `json:"at"`
}

func (r *Redis) historyKey(serial string) string {
	return r.prefix + "history:" + serial
}

func (r *Redis) cooldownKey(detector, serial string) string {
	return r.prefix + "cooldown:" + detector + ":" + serial
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) SaveHistory(ctx context.Context, serial string, values []float64) error {
	data, err := json.Marshal(historyEntry{Serial: serial, Values: values})
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := r.client.Set(ctx, r.historyKey(serial), data, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// SaveCooldown stores the marker until the cooldown would have elapsed.
func (r *Redis) SaveCooldown(ctx context.Context, c alert.Cooldown, ttl time.Duration) error {
	entry := cooldownEntry{Detector: string(c.Detector), Serial: c.Serial, At: c.At.UnixMilli()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}
	if err := r.client.Set(ctx, r.cooldownKey(entry.Detector, c.Serial), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

// Load reads every stored window and marker. Entries that cannot be decoded
// are skipped.
func (r *Redis) Load(ctx context.Context) (*alert.Persisted, error) {
	out := &alert.Persisted{History: make(map[string][]float64)}

	err := r.scan(ctx, r.prefix+"history:*", func(key string, data []byte) {
		var h historyEntry
		if err := json.Unmarshal(data, &h); err != nil {
			r.logger.Warn("Skipping unreadable history entry", zap.String("key", key), zap.Error(err))
			return
		}
		out.History[h.Serial] = h.Values
	})
	if err != nil {
		return nil, err
	}

	err = r.scan(ctx, r.prefix+"cooldown:*", func(key string, data []byte) {
		var c cooldownEntry
		if err := json.Unmarshal(data, &c); err != nil {
			r.logger.Warn("Skipping unreadable cooldown entry", zap.String("key", key), zap.Error(err))
			return
		}
		out.Cooldowns = append(out.Cooldowns, alert.Cooldown{
			Detector: models.Detector(c.Detector),
			Serial:   c.Serial,
			At:       time.UnixMilli(c.At).UTC(),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Redis) scan(ctx context.Context, pattern string, fn func(key string, data []byte)) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		fn(key, data)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return nil
}
