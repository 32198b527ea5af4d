package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/repository"
	"go.uber.org/zap"
)

type SweepResult struct {
	ActivatedOffers int `json:"activated_offers"`
	ExpiredOffers   int `json:"expired_offers"`
	ExpiredClaims   int `json:"expired_claims"`
}

func (r SweepResult) Empty() bool {
	return r.ActivatedOffers == 0 && r.ExpiredOffers == 0 && r.ExpiredClaims == 0
}

// Sweeper applies the time-driven lifecycle transitions. Each step is a
// conditional update, so overlapping or repeated passes are harmless.
type Sweeper struct {
	store     repository.Store
	publisher Publisher
	log       *zap.Logger
	interval  time.Duration
	now       func() time.Time
}

func NewSweeper(store repository.Store, publisher Publisher, log *zap.Logger, interval time.Duration) *Sweeper {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		log:       log,
		interval:  interval,
		now:       time.Now,
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	activated, err := s.store.ActivateDueOffers(ctx, now)
	if err != nil {
		return res, fmt.Errorf("activate due offers: %w", err)
	}
	res.ActivatedOffers = len(activated)

	expired, err := s.store.ExpireDueOffers(ctx, now)
	if err != nil {
		return res, fmt.Errorf("expire due offers: %w", err)
	}
	res.ExpiredOffers = len(expired)

	claims, err := s.store.ExpireDueClaims(ctx, now)
	if err != nil {
		return res, fmt.Errorf("expire due claims: %w", err)
	}
	res.ExpiredClaims = len(claims)

	for _, c := range claims {
		if err := s.publisher.Publish(ctx, c.Update()); err != nil {
			s.log.Warn("publish expired claim", zap.String("claim_id", c.ID), zap.Error(err))
		}
	}

	if !res.Empty() {
		s.log.Info("sweep applied",
			zap.Int("activated_offers", res.ActivatedOffers),
			zap.Int("expired_offers", res.ExpiredOffers),
			zap.Int("expired_claims", res.ExpiredClaims),
		)
	}
	return res, nil
}

// Run sweeps on every tick until ctx is done. A failed pass is logged and the
// next tick tries again.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
