package subscription

import (
	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/feed"
)

// Event is one item on a Stream. The concrete types are ClaimUpdated,
// SubscriptionError and ConnectionChanged.
type Event interface {
	event()
}

type ClaimUpdated struct {
	Update domain.ClaimUpdate
}

type SubscriptionError struct {
	Filter feed.Filter
	Err    error
}

type ConnectionChanged struct {
	From State
	To   State
	Err  error
}

func (ClaimUpdated) event()      {}
func (SubscriptionError) event() {}
func (ConnectionChanged) event() {}
