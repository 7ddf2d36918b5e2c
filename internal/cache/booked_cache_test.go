package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/facility-rental/internal/domain"
)

var kst = time.FixedZone("KST", 9*3600)

func TestKeysFor_SpansDaysAndWholeDayView(t *testing.T) {
	c := NewRedisBookedIntervalCache(nil, 0, kst)

	res := &domain.Reservation{Items: []domain.ReservationItem{
		{ResourceID: "room-a", StartAt: time.Date(2026, 3, 10, 10, 0, 0, 0, kst), EndAt: time.Date(2026, 3, 10, 12, 0, 0, 0, kst)},
		{ResourceID: "tent-1", StartAt: time.Date(2026, 3, 10, 0, 0, 0, 0, kst), EndAt: time.Date(2026, 3, 12, 0, 0, 0, 0, kst)},
	}}

	var entries, gens []string
	for _, k := range c.keysFor(res) {
		entries = append(entries, k.entry)
		gens = append(gens, k.gen)
	}
	assert.ElementsMatch(t, []string{
		"facility:booked:room-a:2026-03-10",
		"facility:booked:*all*:2026-03-10",
		"facility:booked:tent-1:2026-03-10",
		"facility:booked:tent-1:2026-03-11",
		"facility:booked:*all*:2026-03-11",
	}, entries)
	assert.Contains(t, gens, "facility:booked-gen:tent-1:2026-03-11")
	assert.Contains(t, gens, "facility:booked-gen:*all*:2026-03-10")
	assert.Len(t, gens, len(entries))
}

func TestKey_UsesLocalDate(t *testing.T) {
	c := NewRedisBookedIntervalCache(nil, 0, kst)
	// 2026-03-09 20:00 UTC is already 2026-03-10 in Seoul
	utc := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "facility:booked:room-a:2026-03-10", c.key("room-a", utc))
}

func TestNoOpBookedIntervalCache(t *testing.T) {
	c := NewNoOpBookedIntervalCache()
	assert.Equal(t, int64(0), c.Version(context.Background(), "room-a", time.Now()))
	c.Set(context.Background(), "room-a", time.Now(), 0, []domain.BookedInterval{{ResourceID: "room-a"}})
	_, ok := c.Get(context.Background(), "room-a", time.Now())
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateReservation(context.Background(), &domain.Reservation{}))
}

func TestRedisBookedIntervalCache_RoundTripAndInvalidate(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	c := NewRedisBookedIntervalCache(client, time.Minute, kst)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, kst)
	booked := []domain.BookedInterval{{
		ResourceID: "room-cache-test",
		StartAt:    day.Add(10 * time.Hour),
		EndAt:      day.Add(11 * time.Hour),
		Status:     domain.StatusConfirmed,
	}}

	require.NoError(t, client.Del(ctx, c.key("room-cache-test", day), c.genKey("room-cache-test", day)).Err())

	version := c.Version(ctx, "room-cache-test", day)
	assert.Equal(t, int64(0), version)
	c.Set(ctx, "room-cache-test", day, version, booked)
	got, ok := c.Get(ctx, "room-cache-test", day)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.True(t, got[0].StartAt.Equal(booked[0].StartAt))

	require.NoError(t, c.InvalidateReservation(ctx, &domain.Reservation{Items: []domain.ReservationItem{{
		ResourceID: "room-cache-test", StartAt: booked[0].StartAt, EndAt: booked[0].EndAt,
	}}}))
	_, ok = c.Get(ctx, "room-cache-test", day)
	assert.False(t, ok)

	// a snapshot loaded under the old generation is dropped
	c.Set(ctx, "room-cache-test", day, version, booked)
	_, ok = c.Get(ctx, "room-cache-test", day)
	assert.False(t, ok)

	fresh := c.Version(ctx, "room-cache-test", day)
	assert.Equal(t, version+1, fresh)
	c.Set(ctx, "room-cache-test", day, fresh, booked)
	_, ok = c.Get(ctx, "room-cache-test", day)
	assert.True(t, ok)

	c.Set(ctx, "room-cache-test", day, NoVersion, nil)
	got, ok = c.Get(ctx, "room-cache-test", day)
	require.True(t, ok)
	assert.Len(t, got, 1)
}
