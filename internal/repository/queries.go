package repository

import (
	"context"
	"errors"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

const offerColumns = `id, owner_venue_id, max_claims, claimed_count, status, start_time, end_time,
	claim_value, claim_validity_seconds, created_at, updated_at`

const claimColumns = `id, offer_id, user_id, token, status, version, expires_at,
	redeemed_at, redeemed_by_user_id, created_at, updated_at`

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var (
		o        domain.Offer
		status   string
		validity int64
	)
	err := row.Scan(&o.ID, &o.OwnerVenueID, &o.MaxClaims, &o.ClaimedCount, &status, &o.StartTime, &o.EndTime,
		&o.ClaimValue, &validity, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Offer{}, err
	}
	o.Status = domain.OfferStatus(status)
	o.ClaimValidity = time.Duration(validity) * time.Second
	return o, nil
}

func scanClaim(row pgx.Row) (domain.Claim, error) {
	var (
		c      domain.Claim
		status string
	)
	err := row.Scan(&c.ID, &c.OfferID, &c.UserID, &c.Token, &status, &c.Version, &c.ExpiresAt,
		&c.RedeemedAt, &c.RedeemedByUserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Claim{}, err
	}
	c.Status = domain.ClaimStatus(status)
	return c, nil
}

func collectOffers(rows pgx.Rows, err error) ([]domain.Offer, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func collectClaims(rows pgx.Rows, err error) ([]domain.Claim, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// noRowUnlessUUID answers lookups by a malformed id the way a lookup by an
// unknown id is answered. Offer and claim ids are UUID columns and Postgres
// rejects any other literal with 22P02.
func noRowUnlessUUID(id string) error {
	if uuid.Validate(id) != nil {
		return pgx.ErrNoRows
	}
	return nil
}

func (q *queries) createOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	status := o.Status
	if status == "" {
		status = domain.OfferScheduled
	}
	return scanOffer(q.db.QueryRow(ctx, `
		INSERT INTO offers (id, owner_venue_id, max_claims, claimed_count, status, start_time, end_time,
			claim_value, claim_validity_seconds)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8)
		RETURNING `+offerColumns,
		o.ID, o.OwnerVenueID, o.MaxClaims, string(status), o.StartTime, o.EndTime,
		o.ClaimValue, int64(o.ClaimValidity/time.Second),
	))
}

func (q *queries) getOffer(ctx context.Context, id string) (domain.Offer, error) {
	if err := noRowUnlessUUID(id); err != nil {
		return domain.Offer{}, err
	}
	return scanOffer(q.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (q *queries) getClaim(ctx context.Context, id string) (domain.Claim, error) {
	if err := noRowUnlessUUID(id); err != nil {
		return domain.Claim{}, err
	}
	return scanClaim(q.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
}

func (q *queries) listClaimsByUser(ctx context.Context, userID string) ([]domain.Claim, error) {
	return collectClaims(q.db.Query(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID))
}

// LockOffer takes the row lock every claim against this offer serialises on.
func (q *queries) LockOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	if err := noRowUnlessUUID(offerID); err != nil {
		return domain.Offer{}, err
	}
	return scanOffer(q.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, offerID))
}

func (q *queries) ActivateOffer(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, `
		UPDATE offers SET status = 'active', updated_at = $2
		WHERE id = $1 AND status = 'scheduled' AND start_time <= $2
		RETURNING `+offerColumns, offerID, now))
}

func (q *queries) ClaimExists(ctx context.Context, offerID, userID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE offer_id = $1 AND user_id = $2)`,
		offerID, userID).Scan(&exists)
	return exists, err
}

func (q *queries) ActiveTokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE token = $1 AND status = 'active')`,
		token).Scan(&exists)
	return exists, err
}

// InsertClaim reports inserted=false when a uniqueness constraint swallowed
// the row, leaving the surrounding transaction usable.
func (q *queries) InsertClaim(ctx context.Context, arg InsertClaimParams) (domain.Claim, bool, error) {
	c, err := scanClaim(q.db.QueryRow(ctx, `
		INSERT INTO claims (id, offer_id, user_id, token, status, version, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', 1, $5, $6, $6)
		ON CONFLICT DO NOTHING
		RETURNING `+claimColumns,
		arg.ID, arg.OfferID, arg.UserID, arg.Token, arg.ExpiresAt, arg.CreatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, false, nil
		}
		return domain.Claim{}, false, err
	}
	return c, true, nil
}

// IncrementClaimed bumps claimed_count and flips the offer to full in the
// same statement once the bound is reached. No row means the offer was not
// active or had no capacity left.
func (q *queries) IncrementClaimed(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, `
		UPDATE offers SET
			claimed_count = claimed_count + 1,
			status = CASE WHEN claimed_count + 1 >= max_claims THEN 'full' ELSE status END,
			updated_at = $2
		WHERE id = $1 AND status = 'active' AND claimed_count < max_claims
		RETURNING `+offerColumns, offerID, now))
}

func (q *queries) activateDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return collectOffers(q.db.Query(ctx, `
		UPDATE offers SET status = 'active', updated_at = $1
		WHERE status = 'scheduled' AND start_time <= $1
		RETURNING `+offerColumns, now))
}

func (q *queries) expireDueOffers(ctx context.Context, now time.Time) ([]domain.Offer, error) {
	return collectOffers(q.db.Query(ctx, `
		UPDATE offers SET status = 'expired', updated_at = $1
		WHERE status IN ('active', 'full') AND end_time <= $1
		RETURNING `+offerColumns, now))
}

func (q *queries) expireDueClaims(ctx context.Context, now time.Time) ([]domain.Claim, error) {
	return collectClaims(q.db.Query(ctx, `
		UPDATE claims SET status = 'expired', version = version + 1, updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
		RETURNING `+claimColumns, now))
}
