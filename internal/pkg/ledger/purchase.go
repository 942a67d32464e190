package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/gofiber/fiber/v2/log"
)

// PurchaseRequest buys Amount credits with a saved payment method.
type PurchaseRequest struct {
	UserID          string
	Amount          int64
	PaymentMethodID string
	IdempotencyKey  string
}

// PurchaseCredits charges the gateway and, on success, credits the account
// using the payment intent ID as the request ID. A request replaying an
// IdempotencyKey returns the purchase recorded under it instead of opening a
// second one.
func (s *Service) PurchaseCredits(ctx context.Context, req PurchaseRequest) (*models.PurchaseRecord, error) {
	cost, err := PurchaseCost(req.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethodID) == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrPaymentFailed)
	}
	if s.gateway == nil {
		return nil, payment.ErrNotConfigured
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	rec, err := s.openPurchase(ctx, req, cost)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.PURCHASE_COMPLETED:
		log.Infof("[Ledger] Purchase %d of user %s replayed", rec.ID, req.UserID)
		return rec, nil
	case models.PURCHASE_FAILED:
		return rec, fmt.Errorf("%w: %s", ErrPaymentFailed, rec.FailureReason)
	}

	charge := payment.ChargeRequest{
		PaymentMethodID: req.PaymentMethodID,
		AmountCents:     rec.Cost,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata: map[string]string{
			payment.MetaUserID:       req.UserID,
			payment.MetaCreditAmount: strconv.FormatInt(req.Amount, 10),
		},
	}
	if user.StripeCustomerID != nil {
		charge.CustomerID = *user.StripeCustomerID
	}

	result, err := s.gateway.Charge(ctx, charge)
	if err != nil {
		log.Warnf("[Ledger] Charge for purchase %d of user %s failed: %v", rec.ID, req.UserID, err)
		if ferr := s.store.FinishPurchase(ctx, rec.ID, models.PURCHASE_FAILED, "", err.Error()); ferr != nil && !errors.Is(ferr, ErrPurchaseFinal) {
			return nil, errors.Join(fmt.Errorf("%w: %w", ErrPaymentFailed, err), ferr)
		}
		rec.Status = models.PURCHASE_FAILED
		rec.FailureReason = err.Error()
		return rec, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	meta := models.Metadata{
		"reason":          "credit purchase",
		"purchaseId":      rec.ID,
		"paymentIntentId": result.PaymentIntentID,
		"cost":            rec.Cost,
	}
	if _, err := s.CreditWithMetadata(ctx, req.UserID, req.Amount, result.PaymentIntentID, meta); err != nil {
		return nil, fmt.Errorf("credit purchase %d: %w", rec.ID, err)
	}

	// a concurrent replay may have finished it already
	if err := s.store.FinishPurchase(ctx, rec.ID, models.PURCHASE_COMPLETED, result.PaymentIntentID, ""); err != nil && !errors.Is(err, ErrPurchaseFinal) {
		return nil, err
	}
	rec.Status = models.PURCHASE_COMPLETED
	rec.PaymentIntentID = result.PaymentIntentID
	return rec, nil
}

// openPurchase records a pending purchase, or returns the one already stored
// under req.IdempotencyKey. A replay asking for a different amount is a
// conflict.
func (s *Service) openPurchase(ctx context.Context, req PurchaseRequest, cost int64) (*models.PurchaseRecord, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	rec := &models.PurchaseRecord{
		UserID:          req.UserID,
		Amount:          req.Amount,
		Cost:            cost,
		Status:          models.PURCHASE_PENDING,
		PaymentMethodID: req.PaymentMethodID,
		CreatedAt:       s.now().UTC(),
	}
	if key == "" {
		if err := s.store.CreatePurchase(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	rec.IdempotencyKey = &key
	prior, err := s.store.FindPurchaseByIdempotencyKey(ctx, req.UserID, key)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		err = s.store.CreatePurchase(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrDuplicatePurchase) {
			return nil, err
		}
		if prior, err = s.store.FindPurchaseByIdempotencyKey(ctx, req.UserID, key); err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, ErrDuplicatePurchase
		}
	}
	if prior.Amount != req.Amount {
		return nil, fmt.Errorf("%w: idempotency key %q was used for %d credits", ErrRequestConflict, key, prior.Amount)
	}
	return prior, nil
}
