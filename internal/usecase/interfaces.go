package usecase

import (
	"context"

	"github.com/azizikri/flash-offer-claims/internal/domain"
)

// ClaimGateway is what the HTTP layer talks to. ClaimService satisfies it
// directly; the Kafka gateway satisfies it over request/reply topics.
type ClaimGateway interface {
	ClaimOffer(ctx context.Context, offerID, userID string) (domain.Claim, error)
	GetOffer(ctx context.Context, offerID string) (domain.Offer, error)
	GetClaim(ctx context.Context, claimID string) (domain.Claim, error)
	ListUserClaims(ctx context.Context, userID string) ([]domain.Claim, error)
}

// Publisher receives every committed claim change, after commit.
type Publisher interface {
	Publish(ctx context.Context, update domain.ClaimUpdate) error
}

type PublisherFunc func(ctx context.Context, update domain.ClaimUpdate) error

func (f PublisherFunc) Publish(ctx context.Context, update domain.ClaimUpdate) error {
	return f(ctx, update)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.ClaimUpdate) error { return nil }
