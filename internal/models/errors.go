package models

import "errors"

// Kind classifies a failure so callers can react without parsing messages
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindForbidden
	KindUnauthorized
	KindBusy
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindBusy:
		return "busy"
	case KindExhausted:
		return "exhausted"
	default:
		return "internal"
	}
}

// Error is a typed domain failure. Sentinels below are compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrCardNotFound         = &Error{Kind: KindNotFound, Code: "card_not_found", Message: "card not found"}
	ErrOwnerNotFound        = &Error{Kind: KindNotFound, Code: "owner_not_found", Message: "owner not found"}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Code: "user_not_found", Message: "user not found"}
	ErrDuplicateCardNumber  = &Error{Kind: KindConflict, Code: "duplicate_card_number", Message: "card number already exists"}
	ErrInvalidOperation     = &Error{Kind: KindConflict, Code: "invalid_operation", Message: "invalid card operation"}
	ErrCardNotActive        = &Error{Kind: KindConflict, Code: "card_not_active", Message: "card is not active"}
	ErrInsufficientFunds    = &Error{Kind: KindConflict, Code: "insufficient_funds", Message: "insufficient funds"}
	ErrUserExists           = &Error{Kind: KindConflict, Code: "user_exists", Message: "username already taken"}
	ErrInvalidBalance       = &Error{Kind: KindValidation, Code: "invalid_balance", Message: "balance must not be negative"}
	ErrInvalidAmount        = &Error{Kind: KindValidation, Code: "invalid_amount", Message: "amount must be positive"}
	ErrInvalidCard          = &Error{Kind: KindValidation, Code: "invalid_card", Message: "invalid card data"}
	ErrInvalidUser          = &Error{Kind: KindValidation, Code: "invalid_user", Message: "invalid user data"}
	ErrSameCardTransfer     = &Error{Kind: KindValidation, Code: "same_card_transfer", Message: "cannot transfer to the same card"}
	ErrAccessDenied         = &Error{Kind: KindForbidden, Code: "access_denied", Message: "access to card denied"}
	ErrInvalidCredentials   = &Error{Kind: KindUnauthorized, Code: "invalid_credentials", Message: "invalid credentials"}
	ErrBusy                 = &Error{Kind: KindBusy, Code: "busy", Message: "card is busy, retry later"}
	ErrNumberSpaceExhausted = &Error{Kind: KindExhausted, Code: "number_space_exhausted", Message: "could not issue a unique card number"}
)

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first typed error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Retryable reports whether the caller may safely repeat the failed call.
func Retryable(err error) bool {
	return KindOf(err) == KindBusy
}
