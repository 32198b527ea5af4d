package redisx

import "time"

const (
	// Cached claim: claim_status:{claim_id} -> JSON domain.Claim
	KeyClaimStatus = "claim_status:%s"

	// Lowest version a cached claim may carry: claim_floor:{claim_id} -> version
	KeyClaimFloor = "claim_floor:%s"

	// Dedup of change-feed deliveries: dedup:{scope}:{claim_id}:{version}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
