package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOffer(t *testing.T) {
	tests := []struct {
		from, to OfferStatus
		want     bool
	}{
		{OfferScheduled, OfferActive, true},
		{OfferScheduled, OfferCancelled, true},
		{OfferScheduled, OfferFull, false},
		{OfferActive, OfferFull, true},
		{OfferActive, OfferExpired, true},
		{OfferActive, OfferScheduled, false},
		{OfferFull, OfferExpired, true},
		{OfferFull, OfferActive, false},
		{OfferExpired, OfferActive, false},
		{OfferCancelled, OfferActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionOffer(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCanTransitionClaim(t *testing.T) {
	assert.True(t, CanTransitionClaim(ClaimActive, ClaimRedeemed))
	assert.True(t, CanTransitionClaim(ClaimActive, ClaimExpired))
	assert.False(t, CanTransitionClaim(ClaimRedeemed, ClaimActive))
	assert.False(t, CanTransitionClaim(ClaimExpired, ClaimRedeemed))

	assert.False(t, ClaimStatus("pending").Valid())
	assert.True(t, OfferFull.Valid())
}

func TestClaimUpdateNewer(t *testing.T) {
	prev := ClaimUpdate{Version: 2}
	assert.True(t, ClaimUpdate{Version: 3}.Newer(prev))
	assert.False(t, ClaimUpdate{Version: 2}.Newer(prev))
	assert.False(t, ClaimUpdate{Version: 1}.Newer(prev))
}
