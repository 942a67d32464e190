package ledger

import (
	"context"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
)

// HistoryLimit caps the merged history returned to callers.
const HistoryLimit = 100

// Window bounds a history query. Both ends are optional and inclusive.
type Window struct {
	Start *time.Time
	End   *time.Time
}

func (w Window) contains(ts time.Time) bool {
	if w.Start != nil && ts.Before(*w.Start) {
		return false
	}
	if w.End != nil && ts.After(*w.End) {
		return false
	}
	return true
}

// Store is the transactional persistence behind the ledger. Implementations
// must serialize Debit and Credit per user with their own transaction or
// locking primitive.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// Debit decrements the balance by rec.CreditsUsed and inserts rec in one
	// transaction. Returns ErrUserNotFound, ErrDuplicateRequest (same request
	// replayed), ErrRequestConflict (request ID taken by another entry) or
	// ErrInsufficientCredits without changing anything.
	Debit(ctx context.Context, rec *models.UsageRecord) error

	// Credit increments the balance by -rec.CreditsUsed and inserts rec. When a
	// record with the same request ID exists it returns false and changes nothing.
	Credit(ctx context.Context, rec *models.UsageRecord) (bool, error)

	ListUsage(ctx context.Context, userID string, w Window, limit int) ([]models.UsageRecord, error)
	ListPurchases(ctx context.Context, userID string, w Window, limit int) ([]models.PurchaseRecord, error)

	// CreatePurchase inserts a pending purchase. It returns ErrDuplicatePurchase
	// when p.IdempotencyKey is already taken for the account.
	CreatePurchase(ctx context.Context, p *models.PurchaseRecord) error
	// FindPurchaseByIdempotencyKey returns nil when no purchase carries key.
	FindPurchaseByIdempotencyKey(ctx context.Context, userID, key string) (*models.PurchaseRecord, error)
	// FinishPurchase moves a pending purchase to completed or failed. It returns
	// ErrPurchaseFinal when the purchase already left the pending state.
	FinishPurchase(ctx context.Context, id uint, status, paymentIntentID, reason string) error
}

// duplicateDebit classifies a request ID that is already recorded.
func duplicateDebit(existing, rec *models.UsageRecord) error {
	if existing.UserID == rec.UserID && existing.Service == rec.Service && existing.CreditsUsed == rec.CreditsUsed {
		return ErrDuplicateRequest
	}
	return ErrRequestConflict
}
