package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

const (
	keyPrefix = "facility:booked:"
	genPrefix = "facility:booked-gen:"
	// allResources is the key segment of the whole-day, every-resource view
	allResources = "*all*"
)

// NoVersion makes Set a no-op; Version returns it when the generation is unreadable
const NoVersion int64 = -1

// BookedIntervalCache caches the per-day booked interval view. Entries are
// advisory; reservation creation always re-checks the store.
type BookedIntervalCache interface {
	// Get returns the cached intervals of resourceID ("" for all) on the local day of date
	Get(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, bool)
	// Version returns the invalidation generation of the entry. Read it before
	// loading from the store and pass it to Set.
	Version(ctx context.Context, resourceID string, date time.Time) int64
	// Set stores intervals for resourceID on the local day of date unless the
	// entry was invalidated after version was read
	Set(ctx context.Context, resourceID string, date time.Time, version int64, intervals []domain.BookedInterval)
	// InvalidateReservation drops every entry touched by the reservation's
	// items and bumps their generations
	InvalidateReservation(ctx context.Context, reservation *domain.Reservation) error
}

// setIfCurrent writes KEYS[1] only while the generation in KEYS[2] still
// equals ARGV[1]; a missing generation counts as 0
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisBookedIntervalCache stores JSON snapshots in Redis with a short TTL.
// Each entry has a generation counter so a snapshot read before an
// invalidation is never written after it.
type RedisBookedIntervalCache struct {
	client redis.Cmdable
	ttl    time.Duration
	genTTL time.Duration
	loc    *time.Location
}

// NewRedisBookedIntervalCache creates a Redis-backed cache
func NewRedisBookedIntervalCache(client redis.Cmdable, ttl time.Duration, loc *time.Location) *RedisBookedIntervalCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	genTTL := 24 * time.Hour
	if genTTL < 10*ttl {
		genTTL = 10 * ttl
	}
	return &RedisBookedIntervalCache{client: client, ttl: ttl, genTTL: genTTL, loc: loc}
}

func (c *RedisBookedIntervalCache) key(resourceID string, date time.Time) string {
	return keyPrefix + c.suffix(resourceID, date)
}

func (c *RedisBookedIntervalCache) genKey(resourceID string, date time.Time) string {
	return genPrefix + c.suffix(resourceID, date)
}

func (c *RedisBookedIntervalCache) suffix(resourceID string, date time.Time) string {
	if resourceID == "" {
		resourceID = allResources
	}
	return fmt.Sprintf("%s:%s", resourceID, date.In(c.loc).Format(time.DateOnly))
}

// Get returns a cached view; any Redis or decode error is a miss
func (c *RedisBookedIntervalCache) Get(ctx context.Context, resourceID string, date time.Time) ([]domain.BookedInterval, bool) {
	raw, err := c.client.Get(ctx, c.key(resourceID, date)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []domain.BookedInterval
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Version reads the entry's generation; an unreadable one yields NoVersion
func (c *RedisBookedIntervalCache) Version(ctx context.Context, resourceID string, date time.Time) int64 {
	gen, err := c.client.Get(ctx, c.genKey(resourceID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return NoVersion
	}
	return gen
}

// Set stores a view if its generation is unchanged; failures are ignored
func (c *RedisBookedIntervalCache) Set(ctx context.Context, resourceID string, date time.Time, version int64, intervals []domain.BookedInterval) {
	if version == NoVersion {
		return
	}
	raw, err := json.Marshal(intervals)
	if err != nil {
		return
	}
	keys := []string{c.key(resourceID, date), c.genKey(resourceID, date)}
	_ = setIfCurrent.Run(ctx, c.client, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Err()
}

// InvalidateReservation bumps the generation and deletes the per-resource
// and whole-day entries of every local day an item spans
func (c *RedisBookedIntervalCache) InvalidateReservation(ctx context.Context, reservation *domain.Reservation) error {
	if reservation == nil || len(reservation.Items) == 0 {
		return nil
	}
	entries := c.keysFor(reservation)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Incr(ctx, e.gen)
			pipe.Expire(ctx, e.gen, c.genTTL)
			pipe.Del(ctx, e.entry)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate booked cache: %w", err)
	}
	return nil
}

type cacheKeys struct {
	entry string
	gen   string
}

func (c *RedisBookedIntervalCache) keysFor(reservation *domain.Reservation) []cacheKeys {
	seen := make(map[string]bool)
	var keys []cacheKeys
	add := func(resourceID string, day time.Time) {
		k := c.key(resourceID, day)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, cacheKeys{entry: k, gen: c.genKey(resourceID, day)})
		}
	}
	for _, it := range reservation.Items {
		for day := domain.StartOfDay(it.StartAt, c.loc); day.Before(it.EndAt); day = day.AddDate(0, 0, 1) {
			add(it.ResourceID, day)
			add("", day)
		}
	}
	return keys
}

// NoOpBookedIntervalCache never hits
type NoOpBookedIntervalCache struct{}

// NewNoOpBookedIntervalCache creates a cache that stores nothing
func NewNoOpBookedIntervalCache() *NoOpBookedIntervalCache {
	return &NoOpBookedIntervalCache{}
}

// Get always misses
func (NoOpBookedIntervalCache) Get(context.Context, string, time.Time) ([]domain.BookedInterval, bool) {
	return nil, false
}

// Version is always zero
func (NoOpBookedIntervalCache) Version(context.Context, string, time.Time) int64 { return 0 }

// Set is a no-op
func (NoOpBookedIntervalCache) Set(context.Context, string, time.Time, int64, []domain.BookedInterval) {}

// InvalidateReservation is a no-op
func (NoOpBookedIntervalCache) InvalidateReservation(context.Context, *domain.Reservation) error {
	return nil
}
