package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	u := domain.ClaimUpdate{ClaimID: "c-1", Version: 4}
	assert.Equal(t, "dedup:feed:c-1:4", DedupKey("feed", u))
}

// The remaining tests need a live server: REDIS_TEST_ADDR=localhost:6379.
func testRedis(t *testing.T) *ClaimCache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rdb, err := Connect(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClaimCache(rdb)
}

func TestClaimCache_RoundTrip(t *testing.T) {
	cache := testRedis(t)
	ctx := context.Background()
	claim := domain.Claim{ID: uuid.NewString(), OfferID: "o", UserID: "u", Token: "123456", Status: domain.ClaimActive, Version: 1}

	_, ok, err := cache.Get(ctx, claim.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, claim))
	got, ok, err := cache.Get(ctx, claim.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claim.Token, got.Token)

	require.NoError(t, cache.Invalidate(ctx, claim.ID, 2))
	_, ok, _ = cache.Get(ctx, claim.ID)
	assert.False(t, ok)
}

func TestClaimCache_RefusesPutOlderThanInvalidation(t *testing.T) {
	cache := testRedis(t)
	ctx := context.Background()
	stale := domain.Claim{ID: uuid.NewString(), Status: domain.ClaimActive, Version: 1}

	// A reader fetched v1, then v2 committed and invalidated before the
	// reader got to cache its copy.
	require.NoError(t, cache.Invalidate(ctx, stale.ID, 2))
	stored, err := cache.put(ctx, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, err := cache.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh := stale
	fresh.Version, fresh.Status = 2, domain.ClaimExpired
	stored, err = cache.put(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, stored)
	got, ok, err := cache.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ClaimExpired, got.Status)

	// An older invalidation does not lower the floor.
	require.NoError(t, cache.Invalidate(ctx, stale.ID, 1))
	stored, err = cache.put(ctx, stale)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestDeduper_FirstSeen(t *testing.T) {
	cache := testRedis(t)
	d := NewDeduper(cache.rdb, "test-"+uuid.NewString())
	u := domain.ClaimUpdate{ClaimID: "c1", Version: 1}

	first, err := d.FirstSeen(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, again)

	u.Version = 2
	next, err := d.FirstSeen(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, next)
}
