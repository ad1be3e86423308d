// Package cache keeps resolved availability windows in Redis.
//
// Entries are keyed by a per-trainer version number. Invalidate bumps the
// version, which orphans every entry for that trainer at once; orphans age
// out through their TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key identifies one availability query.
type Key struct {
	TrainerID       string
	From            time.Time
	To              time.Time
	DurationMinutes int
	// StudioStamp changes whenever the studio's hours or timezone change.
	StudioStamp int64
}

type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *AvailabilityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityCache{client: client, ttl: ttl, logger: logger}
}

func versionKey(trainerID string) string {
	return "avail:ver:" + trainerID
}

func entryKey(k Key, version int64) string {
	return fmt.Sprintf("avail:%s:v%d:%d:%d:%d:%d",
		k.TrainerID, version, k.From.Unix(), k.To.Unix(), k.DurationMinutes, k.StudioStamp)
}

func (c *AvailabilityCache) version(ctx context.Context, trainerID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(trainerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get fails open: any Redis error is logged and reported as a miss.
func (c *AvailabilityCache) Get(ctx context.Context, k Key) ([]availability.Window, bool) {
	v, err := c.version(ctx, k.TrainerID)
	if err != nil {
		c.logger.Warn("[AvailabilityCache] version lookup failed", zap.String("trainer_id", k.TrainerID), zap.Error(err))
		return nil, false
	}
	raw, err := c.client.Get(ctx, entryKey(k, v)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("[AvailabilityCache] get failed", zap.String("trainer_id", k.TrainerID), zap.Error(err))
		}
		return nil, false
	}
	var ws []availability.Window
	if err := json.Unmarshal(raw, &ws); err != nil {
		c.logger.Warn("[AvailabilityCache] corrupt entry", zap.String("trainer_id", k.TrainerID), zap.Error(err))
		return nil, false
	}
	return ws, true
}

func (c *AvailabilityCache) Set(ctx context.Context, k Key, ws []availability.Window) {
	v, err := c.version(ctx, k.TrainerID)
	if err != nil {
		c.logger.Warn("[AvailabilityCache] version lookup failed", zap.String("trainer_id", k.TrainerID), zap.Error(err))
		return
	}
	raw, err := json.Marshal(ws)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, entryKey(k, v), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("[AvailabilityCache] set failed", zap.String("trainer_id", k.TrainerID), zap.Error(err))
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, trainerID string) {
	if err := c.client.Incr(ctx, versionKey(trainerID)).Err(); err != nil {
		c.logger.Warn("[AvailabilityCache] invalidate failed", zap.String("trainer_id", trainerID), zap.Error(err))
	}
}
