package domain

import "time"

type Offer struct {
	ID            string        `json:"id"`
	OwnerVenueID  string        `json:"owner_venue_id"`
	MaxClaims     int           `json:"max_claims"`
	ClaimedCount  int           `json:"claimed_count"`
	Status        OfferStatus   `json:"status"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	ClaimValue    string        `json:"claim_value"`
	ClaimValidity time.Duration `json:"claim_validity"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Remaining is the number of claims still available.
func (o Offer) Remaining() int {
	if o.ClaimedCount >= o.MaxClaims {
		return 0
	}
	return o.MaxClaims - o.ClaimedCount
}

type Claim struct {
	ID               string      `json:"id"`
	OfferID          string      `json:"offer_id"`
	UserID           string      `json:"user_id"`
	Token            string      `json:"token"`
	Status           ClaimStatus `json:"status"`
	Version          int64       `json:"version"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RedeemedAt       *time.Time  `json:"redeemed_at,omitempty"`
	RedeemedByUserID *string     `json:"redeemed_by_user_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Update builds the change-feed payload describing the claim's current state.
func (c Claim) Update() ClaimUpdate {
	return ClaimUpdate{
		ClaimID:          c.ID,
		OfferID:          c.OfferID,
		UserID:           c.UserID,
		Status:           c.Status,
		Version:          c.Version,
		UpdatedAt:        c.UpdatedAt,
		RedeemedAt:       c.RedeemedAt,
		RedeemedByUserID: c.RedeemedByUserID,
	}
}
