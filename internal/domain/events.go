package domain

import "time"

// ClaimUpdate is a committed change of one claim as carried by the change
// feed. Version increases by one on every committed write to the claim, so
// consumers drop anything at or below the version they already hold.
type ClaimUpdate struct {
	ClaimID          string      `json:"claim_id"`
	OfferID          string      `json:"offer_id"`
	UserID           string      `json:"user_id"`
	Status           ClaimStatus `json:"status"`
	Version          int64       `json:"version"`
	UpdatedAt        time.Time   `json:"updated_at"`
	RejectionReason  string      `json:"rejection_reason,omitempty"`
	RedeemedAt       *time.Time  `json:"redeemed_at,omitempty"`
	RedeemedByUserID *string     `json:"redeemed_by_user_id,omitempty"`
}

// Newer reports whether u supersedes prev for the same claim.
func (u ClaimUpdate) Newer(prev ClaimUpdate) bool {
	return u.Version > prev.Version
}
