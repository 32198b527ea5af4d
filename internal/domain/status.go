package domain

type OfferStatus string

const (
	OfferScheduled OfferStatus = "scheduled"
	OfferActive    OfferStatus = "active"
	OfferFull      OfferStatus = "full"
	OfferExpired   OfferStatus = "expired"
	OfferCancelled OfferStatus = "cancelled"
)

type ClaimStatus string

const (
	ClaimActive   ClaimStatus = "active"
	ClaimRedeemed ClaimStatus = "redeemed"
	ClaimExpired  ClaimStatus = "expired"
)

// full -> expired is allowed so that a sold-out offer still closes at endTime.
var offerNext = map[OfferStatus]map[OfferStatus]bool{
	OfferScheduled: {OfferActive: true, OfferCancelled: true},
	OfferActive:    {OfferFull: true, OfferExpired: true, OfferCancelled: true},
	OfferFull:      {OfferExpired: true},
	OfferExpired:   {},
	OfferCancelled: {},
}

var claimNext = map[ClaimStatus]map[ClaimStatus]bool{
	ClaimActive:   {ClaimRedeemed: true, ClaimExpired: true},
	ClaimRedeemed: {},
	ClaimExpired:  {},
}

func CanTransitionOffer(from, to OfferStatus) bool {
	return offerNext[from][to]
}

func CanTransitionClaim(from, to ClaimStatus) bool {
	return claimNext[from][to]
}

func (s OfferStatus) Valid() bool {
	_, ok := offerNext[s]
	return ok
}

func (s ClaimStatus) Valid() bool {
	_, ok := claimNext[s]
	return ok
}
