package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/retrovue/core/internal/model"
)

// DayCache stores a channel's already-built ResolvedScheduleDays, keyed
// (channel_id, date), so HorizonManager's extension loop does not rebuild
// a day it has already produced this session. Implementations never need
// to be authoritative: a cache miss simply costs a rebuild.
type DayCache interface {
	Get(ctx context.Context, channelID model.ID, date time.Time) (*model.ResolvedScheduleDay, bool)
	Set(ctx context.Context, channelID model.ID, date time.Time, day *model.ResolvedScheduleDay, ttl time.Duration)
}

func dayCacheKey(channelID model.ID, date time.Time) string {
	return fmt.Sprintf("retrovue:scheduleday:%s:%s", channelID, date.Format("2006-01-02"))
}

// RedisDayCache is the primary DayCache, backed by go-redis.
type RedisDayCache struct {
	client *redis.Client
}

// NewRedisDayCache wraps an existing client. The caller owns its lifecycle.
func NewRedisDayCache(client *redis.Client) *RedisDayCache {
	return &RedisDayCache{client: client}
}

func (c *RedisDayCache) Get(ctx context.Context, channelID model.ID, date time.Time) (*model.ResolvedScheduleDay, bool) {
	data, err := c.client.Get(ctx, dayCacheKey(channelID, date)).Bytes()
	if err != nil {
		return nil, false
	}
	var day model.ResolvedScheduleDay
	if err := json.Unmarshal(data, &day); err != nil {
		return nil, false
	}
	return &day, true
}

func (c *RedisDayCache) Set(ctx context.Context, channelID model.ID, date time.Time, day *model.ResolvedScheduleDay, ttl time.Duration) {
	data, err := json.Marshal(day)
	if err != nil {
		return
	}
	c.client.Set(ctx, dayCacheKey(channelID, date), data, ttl)
}

// memEntry is one cached day plus its expiration, mirroring the shape of
// the service framework's in-process cache entry.
type memEntry struct {
	day        *model.ResolvedScheduleDay
	expiration time.Time
}

// InProcessDayCache is the fallback DayCache used when no Redis client is
// configured: a bounded, TTL-expiring map guarded by a single mutex.
type InProcessDayCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	maxSize int
}

// NewInProcessDayCache constructs a fallback cache holding at most maxSize
// entries, evicting an arbitrary entry once full (map iteration order is
// unspecified but that's acceptable for a best-effort planning-rebuild
// cache: eviction only costs a rebuild, never correctness).
func NewInProcessDayCache(maxSize int) *InProcessDayCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &InProcessDayCache{entries: make(map[string]memEntry), maxSize: maxSize}
}

func (c *InProcessDayCache) Get(ctx context.Context, channelID model.ID, date time.Time) (*model.ResolvedScheduleDay, bool) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[dayCacheKey(channelID, date)]
	if !ok || time.Now().After(e.expiration) {
		return nil, false
	}
	return e.day, true
}

func (c *InProcessDayCache) Set(ctx context.Context, channelID model.ID, date time.Time, day *model.ResolvedScheduleDay, ttl time.Duration) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	key := dayCacheKey(channelID, date)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = memEntry{day: day, expiration: time.Now().Add(ttl)}
}
