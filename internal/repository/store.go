package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable home of offers and claims. Claim rows and
// claimed_count are only ever written through ExecTx.
type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error)
	GetOffer(ctx context.Context, id string) (domain.Offer, error)
	GetClaim(ctx context.Context, id string) (domain.Claim, error)
	ListClaimsByUser(ctx context.Context, userID string) ([]domain.Claim, error)
	ActivateDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error)
	ExpireDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error)
	ExpireDueClaims(ctx context.Context, now time.Time) ([]domain.Claim, error)
}

// Querier is the view of the store available inside a transaction.
type Querier interface {
	LockOffer(ctx context.Context, offerID string) (domain.Offer, error)
	ActivateOffer(ctx context.Context, offerID string, now time.Time) (domain.Offer, error)
	ClaimExists(ctx context.Context, offerID, userID string) (bool, error)
	ActiveTokenExists(ctx context.Context, token string) (bool, error)
	InsertClaim(ctx context.Context, arg InsertClaimParams) (domain.Claim, bool, error)
	IncrementClaimed(ctx context.Context, offerID string, now time.Time) (domain.Offer, error)
}

type InsertClaimParams struct {
	ID        string
	OfferID   string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) Store {
	return &store{pool: pool}
}

func (s *store) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	q := &queries{db: tx}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

func (s *store) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if err := validateOffer(offer); err != nil {
		return domain.Offer{}, err
	}
	if uuid.Validate(offer.ID) != nil {
		return domain.Offer{}, fmt.Errorf("%w: offer id must be a UUID", domain.ErrInvalidInput)
	}
	created, err := (&queries{db: s.pool}).createOffer(ctx, offer)
	if err != nil {
		return domain.Offer{}, translate(err)
	}
	return created, nil
}

func (s *store) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return (&queries{db: s.pool}).getOffer(ctx, id)
}

func (s *store) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	return (&queries{db: s.pool}).getClaim(ctx, id)
}

func (s *store) ListClaimsByUser(ctx context.Context, userID string) ([]domain.Claim, error) {
	return (&queries{db: s.pool}).listClaimsByUser(ctx, userID)
}

func (s *store) ActivateDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return (&queries{db: s.pool}).activateDueOffers(ctx, now)
}

func (s *store) ExpireDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return (&queries{db: s.pool}).expireDueOffers(ctx, now)
}

func (s *store) ExpireDueClaims(ctx context.Context, now time.Time) ([]domain.Claim, error) {
	return (&queries{db: s.pool}).expireDueClaims(ctx, now)
}

// translate turns storage-level constraint violations into ConstraintError
// so callers do not depend on the driver.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514":
			return &ConstraintError{Constraint: pgErr.ConstraintName, Err: err}
		}
	}
	return err
}

func validateOffer(o domain.Offer) error {
	switch {
	case o.ID == "" || o.OwnerVenueID == "":
		return fmt.Errorf("%w: offer id and venue are required", domain.ErrInvalidInput)
	case o.MaxClaims <= 0:
		return fmt.Errorf("%w: max claims must be positive", domain.ErrInvalidInput)
	case !o.EndTime.After(o.StartTime):
		return fmt.Errorf("%w: end time must be after start time", domain.ErrInvalidInput)
	case o.ClaimValidity < time.Second:
		return fmt.Errorf("%w: claim validity must be at least one second", domain.ErrInvalidInput)
	case o.Status != "" && !o.Status.Valid():
		return fmt.Errorf("%w: unknown offer status %q", domain.ErrInvalidInput, o.Status)
	case o.Status != "" && o.Status != domain.OfferScheduled && o.Status != domain.OfferActive:
		return fmt.Errorf("%w: offers start scheduled or active", domain.ErrInvalidInput)
	}
	return nil
}

// IsNoRows reports whether err means the addressed row does not exist or did
// not satisfy the update predicate.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
