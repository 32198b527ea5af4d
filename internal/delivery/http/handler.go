package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
	"github.com/azizikri/flash-offer-claims/internal/usecase"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ClaimCache is an optional read-through cache for single-claim lookups.
type ClaimCache interface {
	Get(ctx context.Context, claimID string) (domain.Claim, bool, error)
	Put(ctx context.Context, claim domain.Claim) error
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ClaimResponse struct {
	ID        string             `json:"id"`
	OfferID   string             `json:"offer_id"`
	UserID    string             `json:"user_id"`
	Token     string             `json:"token"`
	Status    domain.ClaimStatus `json:"status"`
	Version   int64              `json:"version"`
	ExpiresAt time.Time          `json:"expires_at"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`

	RedeemedAt       *time.Time `json:"redeemed_at,omitempty"`
	RedeemedByUserID *string    `json:"redeemed_by_user_id,omitempty"`
}

type OfferResponse struct {
	ID           string             `json:"id"`
	OwnerVenueID string             `json:"owner_venue_id"`
	MaxClaims    int                `json:"max_claims"`
	ClaimedCount int                `json:"claimed_count"`
	Remaining    int                `json:"remaining"`
	Status       domain.OfferStatus `json:"status"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	ClaimValue   string             `json:"claim_value"`
}

func newClaimResponse(c domain.Claim) ClaimResponse {
	return ClaimResponse{
		ID:               c.ID,
		OfferID:          c.OfferID,
		UserID:           c.UserID,
		Token:            c.Token,
		Status:           c.Status,
		Version:          c.Version,
		ExpiresAt:        c.ExpiresAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		RedeemedAt:       c.RedeemedAt,
		RedeemedByUserID: c.RedeemedByUserID,
	}
}

func newOfferResponse(o domain.Offer) OfferResponse {
	return OfferResponse{
		ID:           o.ID,
		OwnerVenueID: o.OwnerVenueID,
		MaxClaims:    o.MaxClaims,
		ClaimedCount: o.ClaimedCount,
		Remaining:    o.Remaining(),
		Status:       o.Status,
		StartTime:    o.StartTime,
		EndTime:      o.EndTime,
		ClaimValue:   o.ClaimValue,
	}
}

type Handler struct {
	gateway usecase.ClaimGateway
	auth    Authenticator
	cache   ClaimCache
	log     *zap.Logger
}

// NewHandler wires the REST surface. cache may be nil.
func NewHandler(gateway usecase.ClaimGateway, auth Authenticator, cache ClaimCache, log *zap.Logger) *Handler {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{gateway: gateway, auth: auth, cache: cache, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/offers/{offerID}/claims", h.ClaimOffer)
		r.Get("/offers/{offerID}", h.GetOffer)
		r.Get("/claims/{claimID}", h.GetClaim)
		r.Get("/users/{userID}/claims", h.ListUserClaims)
	})
}

func (h *Handler) ClaimOffer(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "Sign in to claim this offer."})
		return
	}
	offerID := chi.URLParam(r, "offerID")

	claim, err := h.gateway.ClaimOffer(r.Context(), offerID, userID)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			h.log.Error("claim offer failed",
				zap.String("offer_id", offerID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newClaimResponse(claim))
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.gateway.GetOffer(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(offer))
}

// GetClaim serves a caller's own claim. Another user's claim reads as not
// found so claim ids cannot be probed.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "Sign in to view your claims."})
		return
	}
	claimID := chi.URLParam(r, "claimID")

	claim, err := h.lookupClaim(r.Context(), claimID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if claim.UserID != userID {
		h.writeError(w, domain.ErrClaimNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(claim))
}

func (h *Handler) lookupClaim(ctx context.Context, claimID string) (domain.Claim, error) {
	if h.cache != nil {
		claim, ok, err := h.cache.Get(ctx, claimID)
		if err != nil {
			h.log.Warn("claim cache read", zap.String("claim_id", claimID), zap.Error(err))
		}
		if ok {
			return claim, nil
		}
	}

	claim, err := h.gateway.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	if h.cache != nil {
		if err := h.cache.Put(ctx, claim); err != nil {
			h.log.Warn("claim cache write", zap.String("claim_id", claimID), zap.Error(err))
		}
	}
	return claim, nil
}

func (h *Handler) ListUserClaims(w http.ResponseWriter, r *http.Request) {
	callerID, err := h.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "Sign in to view your claims."})
		return
	}
	userID := chi.URLParam(r, "userID")
	if callerID != userID {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Code: "FORBIDDEN", Message: "You can only view your own claims."})
		return
	}

	claims, err := h.gateway.ListUserClaims(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]ClaimResponse, 0, len(claims))
	for _, c := range claims {
		resp = append(resp, newClaimResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	default:
		if errors.Is(err, domain.ErrTokenGenerationFailed) {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, ErrorResponse{Code: domain.Code(err), Message: domain.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
