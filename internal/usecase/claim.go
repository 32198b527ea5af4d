package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ClaimServiceConfig struct {
	// MaxTokenAttempts bounds token draws per ClaimOffer call, including
	// draws made by retried transactions.
	MaxTokenAttempts int
	// DefaultValidity applies to offers stored without a validity window.
	DefaultValidity time.Duration
}

// ClaimService is the only writer of claim rows and of an offer's
// claimed_count.
type ClaimService struct {
	store     repository.Store
	publisher Publisher
	log       *zap.Logger
	cfg       ClaimServiceConfig

	now      func() time.Time
	newToken func() (string, error)
	newID    func() string
}

func NewClaimService(store repository.Store, publisher Publisher, log *zap.Logger, cfg ClaimServiceConfig) *ClaimService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxTokenAttempts <= 0 {
		cfg.MaxTokenAttempts = 5
	}
	if cfg.DefaultValidity <= 0 {
		cfg.DefaultValidity = 24 * time.Hour
	}
	return &ClaimService{
		store:     store,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
		newToken:  SecureToken,
		newID:     uuid.NewString,
	}
}

// ClaimOffer issues userID a claim on offerID. Every precondition is checked
// under the offer's row lock, and the claim insert and counter increment
// commit together or not at all.
func (s *ClaimService) ClaimOffer(ctx context.Context, offerID, userID string) (domain.Claim, error) {
	if offerID == "" || userID == "" {
		return domain.Claim{}, fmt.Errorf("%w: offer id and user id are required", domain.ErrInvalidInput)
	}

	attempts := 0
	for {
		claim, err := s.claimOnce(ctx, offerID, userID, &attempts)
		if err == nil {
			s.log.Info("claim issued",
				zap.String("offer_id", offerID),
				zap.String("user_id", userID),
				zap.String("claim_id", claim.ID),
				zap.Int("token_attempts", attempts),
			)
			s.publish(ctx, claim.Update())
			return claim, nil
		}

		constraint, ok := repository.ViolatedConstraint(err)
		if !ok {
			return domain.Claim{}, err
		}
		switch constraint {
		case repository.ConstraintClaimOfferUser:
			return domain.Claim{}, domain.ErrAlreadyClaimed
		case repository.ConstraintClaimedCountBound:
			return domain.Claim{}, domain.ErrOfferFull
		case repository.ConstraintActiveToken:
			if attempts >= s.cfg.MaxTokenAttempts {
				return domain.Claim{}, domain.ErrTokenGenerationFailed
			}
			s.log.Debug("token taken by concurrent commit, retrying",
				zap.String("offer_id", offerID), zap.Int("attempts", attempts))
		default:
			return domain.Claim{}, fmt.Errorf("claim offer: %w", err)
		}
	}
}

func (s *ClaimService) claimOnce(ctx context.Context, offerID, userID string, attempts *int) (domain.Claim, error) {
	var claim domain.Claim
	now := s.now()

	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		offer, err := q.LockOffer(ctx, offerID)
		if err != nil {
			if repository.IsNoRows(err) {
				return domain.ErrOfferNotFound
			}
			return fmt.Errorf("lock offer: %w", err)
		}

		// A repeat claim is reported as such even once the offer has
		// filled or closed.
		exists, err := q.ClaimExists(ctx, offerID, userID)
		if err != nil {
			return fmt.Errorf("check existing claim: %w", err)
		}
		if exists {
			return domain.ErrAlreadyClaimed
		}

		offer, err = s.ensureClaimable(ctx, q, offer, now)
		if err != nil {
			return err
		}

		validity := offer.ClaimValidity
		if validity <= 0 {
			validity = s.cfg.DefaultValidity
		}

		for claim.ID == "" && *attempts < s.cfg.MaxTokenAttempts {
			*attempts++
			token, err := s.newToken()
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			if !ValidToken(token) {
				return fmt.Errorf("generate token: malformed token %q", token)
			}

			taken, err := q.ActiveTokenExists(ctx, token)
			if err != nil {
				return fmt.Errorf("check token: %w", err)
			}
			if taken {
				continue
			}

			c, inserted, err := q.InsertClaim(ctx, repository.InsertClaimParams{
				ID:        s.newID(),
				OfferID:   offerID,
				UserID:    userID,
				Token:     token,
				ExpiresAt: now.Add(validity),
				CreatedAt: now,
			})
			if err != nil {
				return fmt.Errorf("insert claim: %w", err)
			}
			if !inserted {
				// The offer lock rules out a racing claim by this user, so
				// a skipped insert is a token taken since the check above.
				continue
			}
			claim = c
		}
		if claim.ID == "" {
			return domain.ErrTokenGenerationFailed
		}

		if _, err := q.IncrementClaimed(ctx, offerID, now); err != nil {
			if repository.IsNoRows(err) {
				return domain.ErrOfferFull
			}
			return fmt.Errorf("increment claimed count: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Claim{}, err
	}
	return claim, nil
}

// ensureClaimable re-validates the locked offer, activating a scheduled offer
// whose start time has passed.
func (s *ClaimService) ensureClaimable(ctx context.Context, q repository.Querier, offer domain.Offer, now time.Time) (domain.Offer, error) {
	switch offer.Status {
	case domain.OfferScheduled:
		if now.Before(offer.StartTime) {
			return offer, domain.ErrOfferNotActive
		}
		if !now.Before(offer.EndTime) {
			return offer, domain.ErrOfferExpired
		}
		activated, err := q.ActivateOffer(ctx, offer.ID, now)
		if err != nil {
			if repository.IsNoRows(err) {
				return offer, domain.ErrOfferNotActive
			}
			return offer, fmt.Errorf("activate offer: %w", err)
		}
		offer = activated
	case domain.OfferActive:
	case domain.OfferFull:
		if !now.Before(offer.EndTime) {
			return offer, domain.ErrOfferExpired
		}
		return offer, domain.ErrOfferFull
	case domain.OfferExpired:
		return offer, domain.ErrOfferExpired
	default:
		return offer, domain.ErrOfferNotActive
	}

	if !now.Before(offer.EndTime) {
		return offer, domain.ErrOfferExpired
	}
	if offer.ClaimedCount >= offer.MaxClaims {
		return offer, domain.ErrOfferFull
	}
	return offer, nil
}

func (s *ClaimService) publish(ctx context.Context, update domain.ClaimUpdate) {
	if err := s.publisher.Publish(ctx, update); err != nil {
		s.log.Warn("publish claim update",
			zap.String("claim_id", update.ClaimID),
			zap.Int64("version", update.Version),
			zap.Error(err),
		)
	}
}

func (s *ClaimService) GetOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		if repository.IsNoRows(err) {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, err
	}
	return offer, nil
}

func (s *ClaimService) GetClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	claim, err := s.store.GetClaim(ctx, claimID)
	if err != nil {
		if repository.IsNoRows(err) {
			return domain.Claim{}, domain.ErrClaimNotFound
		}
		return domain.Claim{}, err
	}
	return claim, nil
}

func (s *ClaimService) ListUserClaims(ctx context.Context, userID string) ([]domain.Claim, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	claims, err := s.store.ListClaimsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		claims = []domain.Claim{}
	}
	return claims, nil
}

// CreateOffer seeds an offer. Authoring offers is handled elsewhere; this is
// the store primitive exposed for operators and tests.
func (s *ClaimService) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	created, err := s.store.CreateOffer(ctx, offer)
	if err != nil {
		if c, ok := repository.ViolatedConstraint(err); ok && c == repository.ConstraintOfferPrimaryKey {
			return domain.Offer{}, domain.ErrDuplicateOffer
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return domain.Offer{}, err
		}
		return domain.Offer{}, fmt.Errorf("create offer: %w", err)
	}
	return created, nil
}

var _ ClaimGateway = (*ClaimService)(nil)
