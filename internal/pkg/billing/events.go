package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
)

func decode(event *stripe.Event, v interface{}) error {
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, event.Type, err)
	}
	return nil
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// subscriptionDetails extracts price, period and cycle from the first item.
func subscriptionDetails(s *stripe.Subscription) (priceID string, period *Period, cycle string) {
	if s.Items == nil || len(s.Items.Data) == 0 || s.Items.Data[0] == nil {
		return "", nil, ""
	}
	item := s.Items.Data[0]
	period = unixPeriod(item.CurrentPeriodStart, item.CurrentPeriodEnd)
	if item.Price != nil {
		priceID = item.Price.ID
		if item.Price.Recurring != nil {
			cycle = plans.NormalizeCycle(string(item.Price.Recurring.Interval))
		}
	}
	return priceID, period, cycle
}

// subscriptionUser prefers the local link of the external subscription.
func (r *Reconciler) subscriptionUser(ctx context.Context, externalID string, meta map[string]string, customer string) (string, error) {
	if externalID != "" {
		sub, err := r.repo.FindSubscriptionByExternalID(ctx, externalID)
		if err == nil {
			return sub.UserID, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return "", err
		}
	}
	return r.resolveUser(ctx, meta, customer)
}

func (r *Reconciler) linkCustomer(ctx context.Context, userID, customer string) error {
	if customer == "" {
		return nil
	}
	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID == customer {
		return nil
	}
	return r.repo.SetStripeCustomerID(ctx, userID, customer)
}

func (r *Reconciler) onCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := decode(event, &cs); err != nil {
		return err
	}

	meta := make(map[string]string, len(cs.Metadata)+1)
	for k, v := range cs.Metadata {
		meta[k] = v
	}
	if metaUserID(meta) == "" && cs.ClientReferenceID != "" {
		meta[payment.MetaUserID] = cs.ClientReferenceID
	}

	customer := customerID(cs.Customer)
	userID, err := r.resolveUser(ctx, meta, customer)
	if err != nil {
		return err
	}
	plan, err := r.resolvePlan(ctx, userID, meta, "")
	if err != nil {
		return err
	}
	cycle := plans.NormalizeCycle(meta[payment.MetaBillingCycle])
	if cycle == "" {
		cycle = plans.CycleMonthly
	}

	if err := r.linkCustomer(ctx, userID, customer); err != nil {
		return fmt.Errorf("link customer %s: %w", customer, err)
	}

	period := periodFor(r.now().UTC(), cycle)
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             models.SUBSCRIPTION_ACTIVE,
		CurrentPeriodStart: &period.Start,
		CurrentPeriodEnd:   &period.End,
		CancelAtPeriodEnd:  false,
		BillingCycle:       cycle,
	}
	if cs.Subscription != nil {
		sub.ExternalSubscriptionID = cs.Subscription.ID
	}
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for %s: %w", userID, err)
	}
	log.Infof("[Reconciler] Checkout %s activated plan %s (%s) for user %s", cs.ID, plan.ID, cycle, userID)

	return r.grant(ctx, userID, plan, cs.ID, "subscription checkout", event.ID)
}

func (r *Reconciler) onSubscriptionChanged(ctx context.Context, event *stripe.Event) error {
	var s stripe.Subscription
	if err := decode(event, &s); err != nil {
		return err
	}

	userID, err := r.subscriptionUser(ctx, s.ID, s.Metadata, customerID(s.Customer))
	if err != nil {
		return err
	}
	sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}

	priceID, period, cycle := subscriptionDetails(&s)
	plan, err := r.resolvePlan(ctx, userID, s.Metadata, priceID)
	if err != nil {
		return err
	}

	sub.PlanID = plan.ID
	sub.ExternalSubscriptionID = s.ID
	sub.CancelAtPeriodEnd = s.CancelAtPeriodEnd
	if s.Status == stripe.SubscriptionStatusActive {
		sub.Status = models.SUBSCRIPTION_ACTIVE
	} else {
		sub.Status = models.SUBSCRIPTION_INACTIVE
	}
	if period != nil {
		sub.CurrentPeriodStart = &period.Start
		sub.CurrentPeriodEnd = &period.End
	}
	if cycle != "" {
		sub.BillingCycle = cycle
	}

	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for %s: %w", userID, err)
	}
	log.Infof("[Reconciler] Subscription %s for user %s is %s on plan %s", s.ID, userID, sub.Status, plan.ID)
	return nil
}

func (r *Reconciler) onSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var s stripe.Subscription
	if err := decode(event, &s); err != nil {
		return err
	}

	userID, err := r.subscriptionUser(ctx, s.ID, s.Metadata, customerID(s.Customer))
	if err != nil {
		return err
	}

	priceID, period, cycle := subscriptionDetails(&s)
	sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		plan, perr := r.resolvePlan(ctx, userID, s.Metadata, priceID)
		if perr != nil {
			plan, _ = r.catalog.Get(plans.DefaultPlanID)
		}
		if cycle == "" {
			cycle = plans.CycleMonthly
		}
		sub = &models.Subscription{UserID: userID, PlanID: plan.ID, BillingCycle: cycle}
	case err != nil:
		return err
	}

	sub.Status = models.SUBSCRIPTION_CANCELLED
	sub.CancelAtPeriodEnd = true
	sub.ExternalSubscriptionID = s.ID
	if period != nil {
		sub.CurrentPeriodEnd = &period.End
	} else if ended := unixPeriod(s.StartDate, s.EndedAt); ended != nil {
		sub.CurrentPeriodEnd = &ended.End
	}

	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for %s: %w", userID, err)
	}
	log.Infof("[Reconciler] Subscription %s for user %s cancelled", s.ID, userID)
	return nil
}

// invoiceSubscription returns the subscription ID and its line on an invoice.
func invoiceSubscription(inv *stripe.Invoice) (string, *stripe.InvoiceLineItem) {
	if inv.Lines == nil {
		return "", nil
	}
	for _, line := range inv.Lines.Data {
		if line != nil && line.Subscription != nil && line.Subscription.ID != "" {
			return line.Subscription.ID, line
		}
	}
	return "", nil
}

func (r *Reconciler) onInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := decode(event, &inv); err != nil {
		return err
	}
	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		// The checkout grant already covers the first period.
		log.Infof("[Reconciler] Skipping first invoice %s of a new subscription", inv.ID)
		return nil
	}

	subID, line := invoiceSubscription(&inv)
	if subID == "" {
		log.Infof("[Reconciler] Invoice %s has no subscription, skipping", inv.ID)
		return nil
	}

	userID, err := r.subscriptionUser(ctx, subID, inv.Metadata, customerID(inv.Customer))
	if err != nil {
		return err
	}
	sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.Warnf("[Reconciler] Invoice %s paid for user %s without a local subscription", inv.ID, userID)
		return nil
	}
	if err != nil {
		return err
	}
	if !sub.IsActive() {
		log.Warnf("[Reconciler] Invoice %s paid while subscription of user %s is %s, no credits granted", inv.ID, userID, sub.Status)
		return nil
	}

	meta := make(map[string]string, len(inv.Metadata))
	for k, v := range inv.Metadata {
		meta[k] = v
	}
	priceID := ""
	if r.gateway != nil {
		info, gerr := r.gateway.GetSubscription(ctx, subID)
		if gerr != nil {
			log.Warnf("[Reconciler] Subscription %s lookup failed, using local plan: %v", subID, gerr)
		} else {
			priceID = info.PriceID
			if meta[payment.MetaPlanID] == "" {
				meta[payment.MetaPlanID] = info.PlanID
			}
		}
	}
	plan, err := r.resolvePlan(ctx, userID, meta, priceID)
	if err != nil {
		return err
	}

	var period *Period
	if line != nil && line.Period != nil {
		period = unixPeriod(line.Period.Start, line.Period.End)
	}
	if period == nil && sub.CurrentPeriodEnd != nil {
		next := periodFor(*sub.CurrentPeriodEnd, sub.BillingCycle)
		period = &next
	}

	sub.PlanID = plan.ID
	sub.ExternalSubscriptionID = subID
	if period != nil {
		sub.CurrentPeriodStart = &period.Start
		sub.CurrentPeriodEnd = &period.End
	}
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for %s: %w", userID, err)
	}

	return r.grant(ctx, userID, plan, inv.ID, "subscription renewal", event.ID)
}

func (r *Reconciler) onInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := decode(event, &inv); err != nil {
		return err
	}

	subID, _ := invoiceSubscription(&inv)
	userID, err := r.subscriptionUser(ctx, subID, inv.Metadata, customerID(inv.Customer))
	if err != nil {
		return err
	}
	sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.Warnf("[Reconciler] Payment failed for user %s without a local subscription", userID)
		return nil
	}
	if err != nil {
		return err
	}

	sub.Status = models.SUBSCRIPTION_INACTIVE
	if err := r.repo.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription for %s: %w", userID, err)
	}
	log.Warnf("[Reconciler] Invoice %s payment failed, subscription of user %s set inactive", inv.ID, userID)
	return nil
}
