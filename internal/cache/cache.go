package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"discord-antiraid-bot/internal/database"
	"discord-antiraid-bot/internal/models"
	"discord-antiraid-bot/internal/redis"
)

// ConfigCache answers the per-guild toggle lookup that runs on every
// guarded gateway event. Three layers: ristretto in-process, Redis, then
// Postgres behind a singleflight so a cold guild costs one query no
// matter how many events land at once.
type ConfigCache struct {
	l1           *ristretto.Cache
	l2           *redis.Client
	db           *database.Database
	ttl          time.Duration
	singleflight singleflight.Group

	// Metrics
	l1Hits   atomic.Uint64
	l1Misses atomic.Uint64
	l2Hits   atomic.Uint64
	l2Misses atomic.Uint64
}

// Config for cache initialization
type Config struct {
	L1MaxCost     int64         // Max cost in bytes for L1 cache (default: 10MB)
	L1NumCounters int64         // Number of keys to track frequency (default: 100k)
	DefaultTTL    time.Duration // Default TTL for cache entries
}

// New creates the config cache over the given Redis and Postgres handles.
// Redis may be nil; the cache degrades to L1 + DB.
func New(rdb *redis.Client, db *database.Database, cfg Config) (*ConfigCache, error) {
	if cfg.L1MaxCost == 0 {
		cfg.L1MaxCost = 10 << 20 // 10MB default
	}
	if cfg.L1NumCounters == 0 {
		cfg.L1NumCounters = 100000
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.L1NumCounters,
		MaxCost:     cfg.L1MaxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}

	return &ConfigCache{
		l1:  l1,
		l2:  rdb,
		db:  db,
		ttl: cfg.DefaultTTL,
	}, nil
}

// GetAntiRaidConfig returns the guild's toggles with L1->L2->DB fallback
func (c *ConfigCache) GetAntiRaidConfig(ctx context.Context, guildID string) (*models.AntiRaidConfig, error) {
	if val, found := c.l1.Get(guildID); found {
		c.l1Hits.Add(1)
		return val.(*models.AntiRaidConfig), nil
	}
	c.l1Misses.Add(1)

	if c.l2 != nil {
		if cfg, ok := c.l2.GetAntiRaidConfig(guildID); ok {
			c.l2Hits.Add(1)
			c.l1.SetWithTTL(guildID, cfg, 1, c.ttl)
			return cfg, nil
		}
		c.l2Misses.Add(1)
	}

	// DB fetch with singleflight to prevent stampede on a cold guild
	val, err, _ := c.singleflight.Do(guildID, func() (interface{}, error) {
		cfg, err := c.db.GetAntiRaidConfigFast(ctx, guildID)
		if err != nil {
			return nil, err
		}
		c.store(cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*models.AntiRaidConfig), nil
}

// Update writes a new toggle set through all layers
func (c *ConfigCache) Update(cfg *models.AntiRaidConfig) error {
	if err := c.db.SetAntiRaidConfig(cfg); err != nil {
		return err
	}
	c.store(cfg)
	return nil
}

// Invalidate removes a guild from all cache layers; the next lookup
// reloads from Postgres
func (c *ConfigCache) Invalidate(guildID string) {
	c.l1.Del(guildID)
	if c.l2 != nil {
		c.l2.InvalidateAntiRaidConfig(guildID)
	}
}

func (c *ConfigCache) store(cfg *models.AntiRaidConfig) {
	c.l1.SetWithTTL(cfg.GuildID, cfg, 1, c.ttl)
	if c.l2 != nil {
		c.l2.SetAntiRaidConfig(cfg)
	}
}

// WarmUp pre-loads configs for the guilds the bot is already in so the
// first events after startup do not stampede Postgres. Redis is consulted
// in one batched round-trip; only the misses fall through to the database.
func (c *ConfigCache) WarmUp(ctx context.Context, guildIDs []string) {
	misses := guildIDs
	if c.l2 != nil {
		cached := c.l2.GetAntiRaidConfigs(guildIDs)
		misses = make([]string, 0, len(guildIDs))
		for _, id := range guildIDs {
			if cfg, ok := cached[id]; ok {
				c.l2Hits.Add(1)
				c.l1.SetWithTTL(id, cfg, 1, c.ttl)
				continue
			}
			c.l2Misses.Add(1)
			misses = append(misses, id)
		}
	}
	for _, id := range misses {
		if _, err := c.GetAntiRaidConfig(ctx, id); err != nil {
			continue
		}
	}
}

// GetMetrics returns cache performance metrics
func (c *ConfigCache) GetMetrics() Metrics {
	l1Metrics := c.l1.Metrics

	l1Total := c.l1Hits.Load() + c.l1Misses.Load()
	l2Total := c.l2Hits.Load() + c.l2Misses.Load()

	var l1HitRate, l2HitRate float64
	if l1Total > 0 {
		l1HitRate = float64(c.l1Hits.Load()) / float64(l1Total)
	}
	if l2Total > 0 {
		l2HitRate = float64(c.l2Hits.Load()) / float64(l2Total)
	}

	return Metrics{
		L1Hits:        c.l1Hits.Load(),
		L1Misses:      c.l1Misses.Load(),
		L1HitRate:     l1HitRate,
		L2Hits:        c.l2Hits.Load(),
		L2Misses:      c.l2Misses.Load(),
		L2HitRate:     l2HitRate,
		L1KeysAdded:   l1Metrics.KeysAdded(),
		L1KeysEvicted: l1Metrics.KeysEvicted(),
		L1CostAdded:   l1Metrics.CostAdded(),
		L1CostEvicted: l1Metrics.CostEvicted(),
	}
}

// Metrics holds cache performance data
type Metrics struct {
	L1Hits        uint64
	L1Misses      uint64
	L1HitRate     float64
	L2Hits        uint64
	L2Misses      uint64
	L2HitRate     float64
	L1KeysAdded   uint64
	L1KeysEvicted uint64
	L1CostAdded   uint64
	L1CostEvicted uint64
}

// Close gracefully shuts down the cache
func (c *ConfigCache) Close() {
	c.l1.Close()
}
