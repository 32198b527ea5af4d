package kafka

import (
	"time"

	"github.com/azizikri/flash-offer-claims/internal/domain"
)

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	OfferID       string `json:"offer_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ClaimID       string `json:"claim_id,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int            `json:"schema_version"`
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Claim         *domain.Claim  `json:"claim,omitempty"`
	Offer         *domain.Offer  `json:"offer,omitempty"`
	Claims        []domain.Claim `json:"claims,omitempty"`
}

// FeedEvent is the record value on the claim.updates topic.
type FeedEvent struct {
	SchemaVersion int                `json:"schema_version"`
	EventID       string             `json:"event_id"`
	OccurredAt    time.Time          `json:"occurred_at"`
	Producer      string             `json:"producer"`
	Update        domain.ClaimUpdate `json:"update"`
}
