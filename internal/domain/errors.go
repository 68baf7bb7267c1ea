package domain

import "errors"

var (
	// ErrCardNotFound is returned when no card exists for the requested identifier.
	ErrCardNotFound = errors.New("card not found")

	// ErrForbidden indicates the authenticated user does not own the card.
	ErrForbidden = errors.New("card belongs to another user")

	// ErrInvalidCardStatus indicates the card is not in the state the operation requires.
	ErrInvalidCardStatus = errors.New("invalid card status")

	// ErrInsufficientFunds occurs when a debit exceeds the card balance after conversion.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVersionConflict is returned by a version-guarded write that lost the race.
	// Callers should re-read the card and resubmit.
	ErrVersionConflict = errors.New("card was modified concurrently")

	// ErrPreconditionFailed indicates the caller supplied a stale or malformed version token.
	ErrPreconditionFailed = errors.New("card version token does not match")

	// ErrCardLimitExceeded is returned when the user already owns the maximum number of open cards.
	ErrCardLimitExceeded = errors.New("card limit exceeded")

	// ErrUnsupportedConversion is returned for currency pairs outside USD and UZS.
	ErrUnsupportedConversion = errors.New("unsupported currency conversion")

	// ErrRateUnavailable indicates no usable exchange rate could be obtained.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrInvalidData covers out-of-range amounts and undecodable cached responses.
	ErrInvalidData = errors.New("invalid data")

	// ErrDuplicateTransaction indicates the external identifier was already used by another transaction.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrRequestInProgress is returned when another request currently owns the idempotency key.
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

	// ErrDuplicateKey is returned when saving an idempotency record for a key that already has one.
	ErrDuplicateKey = errors.New("idempotency key already recorded")

	// ErrUnauthorized indicates a missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)
