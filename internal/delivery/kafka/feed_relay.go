package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type Deduper interface {
	FirstSeen(ctx context.Context, u domain.ClaimUpdate) (bool, error)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, claimID string, version int64) error
}

// FeedRelay consumes claim.updates and republishes each update into the
// local change-feed hub. Every instance uses its own consumer group so that
// all WebSocket sessions see every update.
type FeedRelay struct {
	client *kgo.Client
	sink   usecase.Publisher
	dedup  Deduper
	cache  CacheInvalidator
	log    *zap.Logger
}

// NewFeedRelay builds a relay. dedup and cache may be nil.
func NewFeedRelay(client *kgo.Client, sink usecase.Publisher, dedup Deduper, cache CacheInvalidator, log *zap.Logger) *FeedRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedRelay{client: client, sink: sink, dedup: dedup, cache: cache, log: log}
}

func (r *FeedRelay) Start(ctx context.Context) {
	for {
		fetches := r.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if err := r.Handle(ctx, record.Value); err != nil {
				r.log.Warn("relay claim update",
					zap.Int32("partition", record.Partition),
					zap.Int64("offset", record.Offset),
					zap.Error(err),
				)
			}
		}
		if err := r.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			r.log.Warn("commit feed records", zap.Error(err))
		}
	}
}

// Handle relays one record value. Redelivered (claim, version) pairs are
// dropped when a deduper is configured.
func (r *FeedRelay) Handle(ctx context.Context, value []byte) error {
	var ev FeedEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("decode feed event: %w", err)
	}
	u := ev.Update
	if u.ClaimID == "" || u.Version <= 0 {
		return fmt.Errorf("feed event %s: missing claim id or version", ev.EventID)
	}

	if r.dedup != nil {
		first, err := r.dedup.FirstSeen(ctx, u)
		if err != nil {
			// Delivery is at-least-once; a dedup outage only means downstream
			// version checks do the filtering.
			r.log.Warn("dedup check", zap.String("claim_id", u.ClaimID), zap.Error(err))
		} else if !first {
			r.log.Debug("duplicate claim update", zap.String("claim_id", u.ClaimID), zap.Int64("version", u.Version))
			return nil
		}
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, u.ClaimID, u.Version); err != nil {
			r.log.Warn("invalidate claim cache", zap.String("claim_id", u.ClaimID), zap.Error(err))
		}
	}
	return r.sink.Publish(ctx, u)
}
