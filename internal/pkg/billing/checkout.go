package billing

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/gofiber/fiber/v2/log"
)

// StartCheckout creates a subscription checkout session for planID. The
// gateway customer is created on first use.
func (r *Reconciler) StartCheckout(ctx context.Context, userID, planID, cycle string) (*payment.CheckoutSession, error) {
	if r.gateway == nil {
		return nil, payment.ErrNotConfigured
	}
	normalized := plans.NormalizeCycle(cycle)
	if normalized == "" {
		return nil, plans.ErrInvalidCycle
	}
	plan, err := r.catalog.Get(planID)
	if err != nil {
		return nil, err
	}
	priceID, err := plan.PriceID(normalized)
	if err != nil {
		return nil, err
	}

	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	customer := ""
	if user.StripeCustomerID != nil {
		customer = *user.StripeCustomerID
	} else {
		customer, err = r.gateway.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return nil, err
		}
		if err := r.repo.SetStripeCustomerID(ctx, user.ID, customer); err != nil {
			return nil, fmt.Errorf("store customer %s: %w", customer, err)
		}
	}

	session, err := r.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		CustomerID:   customer,
		PriceID:      priceID,
		UserID:       user.ID,
		PlanID:       plan.ID,
		BillingCycle: normalized,
		SuccessURL:   r.cfg.SuccessURL,
		CancelURL:    r.cfg.CancelURL,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Reconciler] Checkout %s started for user %s (%s %s)", session.ID, user.ID, plan.ID, normalized)
	return session, nil
}

// RequestCancellation schedules the subscription to end with the current
// period. Status stays unchanged until the gateway deletes it.
func (r *Reconciler) RequestCancellation(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, ErrSubscriptionInactive
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if sub.ExternalSubscriptionID != "" {
		if r.gateway == nil {
			return nil, payment.ErrNotConfigured
		}
		if err := r.gateway.CancelAtPeriodEnd(ctx, sub.ExternalSubscriptionID); err != nil {
			return nil, err
		}
	}

	sub.CancelAtPeriodEnd = true
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	log.Infof("[Reconciler] Subscription of user %s will cancel at period end", userID)
	return sub, nil
}

// Subscription returns the local subscription of a user.
func (r *Reconciler) Subscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.repo.GetSubscriptionByUser(ctx, userID)
}
