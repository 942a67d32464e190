package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is returned when a debit would overdraw the account.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidRequestID    = errors.New("request id is required")
	ErrAmountTooLarge      = fmt.Errorf("%w: at most %d credits per purchase", ErrInvalidAmount, MaxPurchaseCredits)
	// ErrDuplicateRequest is returned by Debit when the request ID was already recorded.
	ErrDuplicateRequest = errors.New("request already recorded")
	// ErrRequestConflict is returned by Debit when the request ID is recorded
	// for a different account, service or amount.
	ErrRequestConflict = errors.New("request id already used for a different charge")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrPurchaseFinal    = errors.New("purchase already finalized")
	// ErrDuplicatePurchase is returned by CreatePurchase when the account
	// already has a purchase under the idempotency key.
	ErrDuplicatePurchase = errors.New("purchase already recorded for idempotency key")
	ErrUnknownService   = errors.New("unknown service")
)
