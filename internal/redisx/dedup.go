package redisx

import (
	"context"
	"fmt"
	"strconv"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers which (claim, version) pairs a consumer has already
// handled, across restarts and replicas sharing the same scope.
type Deduper struct {
	rdb   *redis.Client
	scope string
}

func NewDeduper(rdb *redis.Client, scope string) *Deduper {
	return &Deduper{rdb: rdb, scope: scope}
}

func DedupKey(scope string, u domain.ClaimUpdate) string {
	return fmt.Sprintf(KeyDedup, scope, u.ClaimID+":"+strconv.FormatInt(u.Version, 10))
}

// FirstSeen marks u as handled and reports whether it was new.
func (d *Deduper) FirstSeen(ctx context.Context, u domain.ClaimUpdate) (bool, error) {
	return d.rdb.SetNX(ctx, DedupKey(d.scope, u), "1", TTLDedup).Result()
}
