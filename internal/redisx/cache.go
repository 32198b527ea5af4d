package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ClaimCache keeps recently read claims so status polling does not reach the
// database. Invalidate drops the entry and records the version that caused
// it; a Put carrying an older version is refused, so a read that raced the
// invalidation cannot park a stale claim for the cache TTL.
type ClaimCache struct {
	rdb *redis.Client
}

func NewClaimCache(rdb *redis.Client) *ClaimCache {
	return &ClaimCache{rdb: rdb}
}

// KEYS[1] cached claim, KEYS[2] version floor.
// ARGV[1] claim version, ARGV[2] payload, ARGV[3] ttl ms.
var putClaim = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < floor then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// KEYS[1] cached claim, KEYS[2] version floor.
// ARGV[1] version, ARGV[2] ttl ms.
var invalidateClaim = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > floor then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

func (c *ClaimCache) Get(ctx context.Context, claimID string) (domain.Claim, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyClaimStatus, claimID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Claim{}, false, nil
		}
		return domain.Claim{}, false, err
	}
	var claim domain.Claim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return domain.Claim{}, false, fmt.Errorf("decode cached claim: %w", err)
	}
	return claim, true, nil
}

// Put caches claim unless a newer version has already been invalidated.
func (c *ClaimCache) Put(ctx context.Context, claim domain.Claim) error {
	_, err := c.put(ctx, claim)
	return err
}

func (c *ClaimCache) put(ctx context.Context, claim domain.Claim) (bool, error) {
	b, err := json.Marshal(claim)
	if err != nil {
		return false, err
	}
	keys := []string{fmt.Sprintf(KeyClaimStatus, claim.ID), fmt.Sprintf(KeyClaimFloor, claim.ID)}
	stored, err := putClaim.Run(ctx, c.rdb, keys, claim.Version, b, TTLStatusCache.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache claim %s: %w", claim.ID, err)
	}
	return stored == 1, nil
}

// Invalidate drops the cached claim after version was committed.
func (c *ClaimCache) Invalidate(ctx context.Context, claimID string, version int64) error {
	keys := []string{fmt.Sprintf(KeyClaimStatus, claimID), fmt.Sprintf(KeyClaimFloor, claimID)}
	if err := invalidateClaim.Run(ctx, c.rdb, keys, version, TTLStatusCache.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("invalidate claim %s: %w", claimID, err)
	}
	return nil
}
