package domain

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrOfferNotFound         = errors.New("offer not found")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrOfferNotActive        = errors.New("offer is not active")
	ErrOfferExpired          = errors.New("offer has expired")
	ErrOfferFull             = errors.New("offer is fully claimed")
	ErrAlreadyClaimed        = errors.New("user has already claimed this offer")
	ErrTokenGenerationFailed = errors.New("could not generate a unique token")
	ErrDuplicateOffer        = errors.New("offer already exists")
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf classifies err. Conflict errors are final for the call that
// produced them but a fresh call re-evaluates every condition.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrOfferNotFound), errors.Is(err, ErrClaimNotFound):
		return KindNotFound
	case errors.Is(err, ErrOfferFull),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrOfferExpired),
		errors.Is(err, ErrOfferNotActive),
		errors.Is(err, ErrDuplicateOffer):
		return KindConflict
	default:
		return KindInternal
	}
}

// Code is the stable machine-readable name of err, shared by the HTTP and
// Kafka surfaces.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrOfferNotFound):
		return "OFFER_NOT_FOUND"
	case errors.Is(err, ErrClaimNotFound):
		return "CLAIM_NOT_FOUND"
	case errors.Is(err, ErrOfferNotActive):
		return "OFFER_NOT_ACTIVE"
	case errors.Is(err, ErrOfferExpired):
		return "OFFER_EXPIRED"
	case errors.Is(err, ErrOfferFull):
		return "OFFER_FULL"
	case errors.Is(err, ErrAlreadyClaimed):
		return "ALREADY_CLAIMED"
	case errors.Is(err, ErrTokenGenerationFailed):
		return "TOKEN_GENERATION_FAILED"
	case errors.Is(err, ErrDuplicateOffer):
		return "DUPLICATE_OFFER"
	default:
		return "INTERNAL_ERROR"
	}
}

// ErrorFromCode is the inverse of Code. Unknown codes yield a plain error
// carrying message.
func ErrorFromCode(code, message string) error {
	if err := ForCode(code); err != nil {
		return err
	}
	return errors.New(message)
}

// ForCode returns the sentinel error behind a wire error code, or nil for a
// code it does not know.
func ForCode(code string) error {
	switch code {
	case "INVALID_REQUEST":
		return ErrInvalidInput
	case "OFFER_NOT_FOUND":
		return ErrOfferNotFound
	case "CLAIM_NOT_FOUND":
		return ErrClaimNotFound
	case "OFFER_NOT_ACTIVE":
		return ErrOfferNotActive
	case "OFFER_EXPIRED":
		return ErrOfferExpired
	case "OFFER_FULL":
		return ErrOfferFull
	case "ALREADY_CLAIMED":
		return ErrAlreadyClaimed
	case "TOKEN_GENERATION_FAILED":
		return ErrTokenGenerationFailed
	case "DUPLICATE_OFFER":
		return ErrDuplicateOffer
	default:
		return nil
	}
}

// UserMessage is the text shown to the person who attempted the claim.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrOfferFull):
		return "All claims for this offer have been taken. Keep an eye out for the next drop."
	case errors.Is(err, ErrAlreadyClaimed):
		return "You already claimed this offer. Your token is in My Claims."
	case errors.Is(err, ErrOfferExpired):
		return "This offer has ended and can no longer be claimed."
	case errors.Is(err, ErrOfferNotActive):
		return "This offer isn't open for claims yet. Try again once it starts."
	case errors.Is(err, ErrOfferNotFound):
		return "This offer is no longer available."
	case errors.Is(err, ErrTokenGenerationFailed):
		return "We couldn't issue your token. Please try again."
	case errors.Is(err, ErrInvalidInput):
		return "Something is wrong with this request."
	default:
		return "Something went wrong. Please try again."
	}
}
