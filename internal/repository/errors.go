package repository

import "errors"

const (
	ConstraintClaimOfferUser    = "claims_offer_user_key"
	ConstraintActiveToken       = "claims_active_token_idx"
	ConstraintClaimedCountBound = "offers_claimed_count_bounds"
	ConstraintOfferPrimaryKey   = "offers_pkey"
)

// ConstraintError is a write rejected by a storage-level uniqueness or check
// constraint, typically because a concurrent transaction committed first.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Err != nil {
		return "constraint " + e.Constraint + ": " + e.Err.Error()
	}
	return "constraint " + e.Constraint + " violated"
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// ViolatedConstraint returns the constraint name when err is a ConstraintError.
func ViolatedConstraint(err error) (string, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}
