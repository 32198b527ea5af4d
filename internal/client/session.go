package client

import (
	"context"
	"errors"
	"sync"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/optimistic"
	"go.uber.org/zap"
)

type ViewStatus string

const (
	ViewNone      ViewStatus = ""
	ViewPending   ViewStatus = "pending"
	ViewConfirmed ViewStatus = "confirmed"
)

// ClaimView is what the user is shown for one offer.
type ClaimView struct {
	OfferID string
	Status  ViewStatus
	Claim   *domain.Claim
}

type ClaimAPI interface {
	ClaimOffer(ctx context.Context, offerID string) (domain.Claim, error)
}

// Mirror is the durable record of confirmed claim state.
type Mirror interface {
	PutClaim(ctx context.Context, c domain.Claim) (bool, error)
	Apply(ctx context.Context, u domain.ClaimUpdate) (bool, error)
}

// Session holds one user's claim views. Claims are shown as pending the
// moment they are requested and settled when the API answers.
type Session struct {
	userID string
	api    ClaimAPI
	mirror Mirror
	recon  *optimistic.Reconciler[string, ClaimView]
	log    *zap.Logger

	mu       sync.Mutex
	views    map[string]ClaimView
	onChange func(ClaimView)
}

// NewSession builds a session. mirror and log may be nil.
func NewSession(userID string, api ClaimAPI, mirror Mirror, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		userID: userID,
		api:    api,
		mirror: mirror,
		recon:  optimistic.New[string, ClaimView](),
		log:    log,
		views:  make(map[string]ClaimView),
	}
}

// OnChange sets the callback run after every view change.
func (s *Session) OnChange(fn func(ClaimView)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Session) View(offerID string) ClaimView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[offerID]; ok {
		return v
	}
	return ClaimView{OfferID: offerID}
}

// Claim shows offerID as pending, calls the API, then confirms or rolls the
// view back. When ctx is cancelled before the call returns the outcome is
// discarded and Claim returns the zero Claim with a nil error: the pending
// view is withdrawn without notifying and the mirror is left alone. A claim
// the server did make still arrives through HandleUpdate.
func (s *Session) Claim(ctx context.Context, offerID string) (domain.Claim, error) {
	prev := s.View(offerID)
	pending := ClaimView{OfferID: offerID, Status: ViewPending}

	id, err := s.recon.Apply(offerID, prev, pending)
	if err != nil {
		return domain.Claim{}, err
	}
	s.show(pending, true)

	claim, err := s.api.ClaimOffer(ctx, offerID)
	if ctx.Err() != nil {
		if restored, rerr := s.recon.Rollback(id); rerr == nil {
			s.show(restored, false)
		}
		s.log.Debug("claim settled after caller detached", zap.String("offer_id", offerID))
		return domain.Claim{}, nil
	}

	if err != nil {
		restored, rerr := s.recon.Rollback(id)
		switch {
		case rerr == nil:
			s.show(restored, true)
		case errors.Is(rerr, optimistic.ErrSuperseded):
			s.log.Debug("claim rollback superseded", zap.String("offer_id", offerID))
		}
		return domain.Claim{}, err
	}

	if err := s.recon.Confirm(offerID, id); err != nil {
		s.log.Warn("confirm optimistic claim", zap.String("offer_id", offerID), zap.Error(err))
	}
	s.show(ClaimView{OfferID: offerID, Status: ViewConfirmed, Claim: &claim}, true)

	if s.mirror != nil {
		if _, err := s.mirror.PutClaim(ctx, claim); err != nil {
			s.log.Warn("mirror claim", zap.String("claim_id", claim.ID), zap.Error(err))
		}
	}
	return claim, nil
}

// HandleUpdate reconciles a change-feed update for one of the user's claims.
// It reports whether the update was newer than what the session held.
func (s *Session) HandleUpdate(ctx context.Context, u domain.ClaimUpdate) (bool, error) {
	if u.UserID != s.userID {
		return false, nil
	}
	if s.mirror != nil {
		applied, err := s.mirror.Apply(ctx, u)
		if err != nil {
			return false, err
		}
		if !applied {
			return false, nil
		}
	}

	s.mu.Lock()
	v := s.views[u.OfferID]
	if v.Claim != nil && v.Claim.ID == u.ClaimID && !u.Newer(v.Claim.Update()) {
		s.mu.Unlock()
		return false, nil
	}
	var c domain.Claim
	if v.Claim != nil && v.Claim.ID == u.ClaimID {
		c = *v.Claim
	} else {
		c = domain.Claim{ID: u.ClaimID, OfferID: u.OfferID, UserID: u.UserID}
	}
	c.Status = u.Status
	c.Version = u.Version
	c.UpdatedAt = u.UpdatedAt
	c.RedeemedAt = u.RedeemedAt
	c.RedeemedByUserID = u.RedeemedByUserID
	s.mu.Unlock()

	// A pending view stays pending until its own call settles.
	if v.Status == ViewPending {
		return true, nil
	}
	s.show(ClaimView{OfferID: u.OfferID, Status: ViewConfirmed, Claim: &c}, true)
	return true, nil
}

func (s *Session) show(v ClaimView, notify bool) {
	s.mu.Lock()
	if v.Status == ViewNone && v.Claim == nil {
		delete(s.views, v.OfferID)
	} else {
		s.views[v.OfferID] = v
	}
	fn := s.onChange
	s.mu.Unlock()

	if notify && fn != nil {
		fn(v)
	}
}
