// Package mirror keeps a durable local copy of the confirmed claim state a
// client has seen. Writes are guarded by the per-claim version so stale and
// duplicate feed deliveries never overwrite newer state.
package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("claim not in mirror")

const schema = `
CREATE TABLE IF NOT EXISTS claims (
	claim_id            TEXT PRIMARY KEY,
	offer_id            TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	token               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL,
	version             INTEGER NOT NULL,
	expires_at          INTEGER,
	updated_at          INTEGER NOT NULL,
	rejection_reason    TEXT NOT NULL DEFAULT '',
	redeemed_at         INTEGER,
	redeemed_by_user_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_claims_user ON claims (user_id, updated_at DESC);
`

const upsertSQL = `
INSERT INTO claims (
	claim_id, offer_id, user_id, token, status, version,
	expires_at, updated_at, rejection_reason, redeemed_at, redeemed_by_user_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (claim_id) DO UPDATE SET
	status              = excluded.status,
	version             = excluded.version,
	updated_at          = excluded.updated_at,
	rejection_reason    = excluded.rejection_reason,
	redeemed_at         = excluded.redeemed_at,
	redeemed_by_user_id = excluded.redeemed_by_user_id,
	token               = CASE WHEN excluded.token <> '' THEN excluded.token ELSE claims.token END,
	expires_at          = COALESCE(excluded.expires_at, claims.expires_at)
WHERE excluded.version > claims.version`

const selectColumns = `
SELECT claim_id, offer_id, user_id, token, status, version,
	expires_at, updated_at, rejection_reason, redeemed_at, redeemed_by_user_id
FROM claims`

// Record is one mirrored claim.
type Record struct {
	domain.Claim
	RejectionReason string
}

type Mirror struct {
	db *sql.DB
}

// Open creates or opens the mirror database at path.
func Open(path string) (*Mirror, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply mirror schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

func (m *Mirror) Close() error {
	return m.db.Close()
}

// PutClaim stores a claim returned by the API. It reports whether the row
// changed.
func (m *Mirror) PutClaim(ctx context.Context, c domain.Claim) (bool, error) {
	return m.upsert(ctx, Record{Claim: c})
}

// Apply reconciles a feed update. Updates at or below the stored version are
// ignored and reported as not applied.
func (m *Mirror) Apply(ctx context.Context, u domain.ClaimUpdate) (bool, error) {
	return m.upsert(ctx, Record{
		Claim: domain.Claim{
			ID:               u.ClaimID,
			OfferID:          u.OfferID,
			UserID:           u.UserID,
			Status:           u.Status,
			Version:          u.Version,
			UpdatedAt:        u.UpdatedAt,
			RedeemedAt:       u.RedeemedAt,
			RedeemedByUserID: u.RedeemedByUserID,
		},
		RejectionReason: u.RejectionReason,
	})
}

func (m *Mirror) upsert(ctx context.Context, r Record) (bool, error) {
	if r.ID == "" {
		return false, fmt.Errorf("%w: claim id is required", domain.ErrInvalidInput)
	}
	res, err := m.db.ExecContext(ctx, upsertSQL,
		r.ID, r.OfferID, r.UserID, r.Token, string(r.Status), r.Version,
		nullTime(r.ExpiresAt), r.UpdatedAt.UnixNano(), r.RejectionReason,
		nullTimePtr(r.RedeemedAt), nullString(r.RedeemedByUserID),
	)
	if err != nil {
		return false, fmt.Errorf("upsert claim %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert claim %s: %w", r.ID, err)
	}
	return n > 0, nil
}

func (m *Mirror) Get(ctx context.Context, claimID string) (Record, error) {
	row := m.db.QueryRowContext(ctx, selectColumns+` WHERE claim_id = ?`, claimID)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// ListByUser returns a user's mirrored claims, most recently updated first.
func (m *Mirror) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, selectColumns+` WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		r          Record
		status     string
		expiresAt  sql.NullInt64
		updatedAt  int64
		redeemedAt sql.NullInt64
		redeemedBy sql.NullString
	)
	err := s.Scan(&r.ID, &r.OfferID, &r.UserID, &r.Token, &status, &r.Version,
		&expiresAt, &updatedAt, &r.RejectionReason, &redeemedAt, &redeemedBy)
	if err != nil {
		return Record{}, err
	}
	r.Status = domain.ClaimStatus(status)
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if expiresAt.Valid {
		r.ExpiresAt = time.Unix(0, expiresAt.Int64).UTC()
	}
	if redeemedAt.Valid {
		t := time.Unix(0, redeemedAt.Int64).UTC()
		r.RedeemedAt = &t
	}
	if redeemedBy.Valid {
		r.RedeemedByUserID = &redeemedBy.String
	}
	return r, nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return nullTime(*t)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
