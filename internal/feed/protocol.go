// Package feed defines the JSON frames exchanged over the claim change-feed
// WebSocket. The server and the subscription client both speak it.
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/azizikri/flash-offer-claims/internal/domain"
)

type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameClaimUpdate FrameType = "claim_update"
	FrameError       FrameType = "error"
	FrameAck         FrameType = "ack"
)

type FilterKind string

const (
	FilterClaim FilterKind = "claim"
	FilterUser  FilterKind = "user"
)

// Filter selects the claim updates a subscriber receives.
type Filter struct {
	Kind FilterKind `json:"kind"`
	ID   string     `json:"id"`
}

func ClaimFilter(claimID string) Filter { return Filter{Kind: FilterClaim, ID: claimID} }

func UserFilter(userID string) Filter { return Filter{Kind: FilterUser, ID: userID} }

func (f Filter) String() string {
	return string(f.Kind) + ":" + f.ID
}

func (f Filter) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: filter id is required", domain.ErrInvalidInput)
	}
	switch f.Kind {
	case FilterClaim, FilterUser:
		return nil
	default:
		return fmt.Errorf("%w: unknown filter kind %q", domain.ErrInvalidInput, f.Kind)
	}
}

func (f Filter) Matches(u domain.ClaimUpdate) bool {
	switch f.Kind {
	case FilterClaim:
		return u.ClaimID == f.ID
	case FilterUser:
		return u.UserID == f.ID
	default:
		return false
	}
}

// FiltersFor lists every filter that selects u.
func FiltersFor(u domain.ClaimUpdate) []Filter {
	return []Filter{ClaimFilter(u.ClaimID), UserFilter(u.UserID)}
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type Frame struct {
	Type   FrameType           `json:"type"`
	Filter *Filter             `json:"filter,omitempty"`
	Update *domain.ClaimUpdate `json:"update,omitempty"`
	Error  *ErrorBody          `json:"error,omitempty"`
}

func Subscribe(f Filter) Frame   { return Frame{Type: FrameSubscribe, Filter: &f} }
func Unsubscribe(f Filter) Frame { return Frame{Type: FrameUnsubscribe, Filter: &f} }
func Ack(f Filter) Frame         { return Frame{Type: FrameAck, Filter: &f} }

func Update(u domain.ClaimUpdate) Frame {
	return Frame{Type: FrameClaimUpdate, Update: &u}
}

func Error(f *Filter, code, message string, retryable bool) Frame {
	return Frame{Type: FrameError, Filter: f, Error: &ErrorBody{Code: code, Message: message, Retryable: retryable}}
}

func Decode(data []byte) (Frame, error) {
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch fr.Type {
	case FrameSubscribe, FrameUnsubscribe, FrameAck:
		if fr.Filter == nil {
			return Frame{}, fmt.Errorf("decode frame: %s without filter", fr.Type)
		}
	case FrameClaimUpdate:
		if fr.Update == nil {
			return Frame{}, fmt.Errorf("decode frame: claim_update without update")
		}
		if !fr.Update.Status.Valid() {
			return Frame{}, fmt.Errorf("decode frame: unknown claim status %q", fr.Update.Status)
		}
	case FrameError:
		if fr.Error == nil {
			return Frame{}, fmt.Errorf("decode frame: error without body")
		}
	default:
		return Frame{}, fmt.Errorf("decode frame: unknown type %q", fr.Type)
	}
	return fr, nil
}
