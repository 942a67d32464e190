package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment/paymenttest"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type fixture struct {
	store      *ledger.MemoryStore
	repo       *MemoryRepository
	ledger     *ledger.Service
	gateway    *paymenttest.Gateway
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	store.AddUser(&models.User{ID: "user-1", Email: "one@example.com", SubscriptionStatus: models.SUBSCRIPTION_INACTIVE, BillingCycle: models.BILLING_MONTHLY})

	prices := map[string]string{
		"STRIPE_PRICE_PRO_MONTHLY":   "price_pro_m",
		"STRIPE_PRICE_PRO_YEARLY":    "price_pro_y",
		"STRIPE_PRICE_BASIC_MONTHLY": "price_basic_m",
	}
	catalog := plans.Default().WithPrices(func(key string) string { return prices[key] })

	repo := NewMemoryRepository(store)
	svc := ledger.NewService(store, catalog)
	gw := paymenttest.New()
	rec := NewReconciler(repo, svc, catalog, gw, Config{
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://app.test/success",
		CancelURL:     "https://app.test/cancel",
	})
	return &fixture{store: store, repo: repo, ledger: svc, gateway: gw, reconciler: rec}
}

func signedEvent(t *testing.T, id, eventType string, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func (f *fixture) deliver(t *testing.T, id, eventType string, object map[string]interface{}) (*Outcome, error) {
	t.Helper()
	payload, header := signedEvent(t, id, eventType, object)
	return f.reconciler.Handle(context.Background(), payload, header)
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	return b
}

func checkoutObject(plan, cycle string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata": map[string]string{
			"user_id":       "user-1",
			"plan_id":       plan,
			"billing_cycle": cycle,
		},
	}
}

func invoiceObject(id, reason string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"object":         "invoice",
		"customer":       "cus_1",
		"billing_reason": reason,
		"lines": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"id":           "il_1",
					"object":       "line_item",
					"subscription": "sub_1",
					"period":       map[string]int64{"start": start.Unix(), "end": end.Unix()},
				},
			},
		},
	}
}

func subscriptionObject(status string, cancelAtPeriodEnd bool, priceID string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                   "sub_1",
		"object":               "subscription",
		"customer":             "cus_1",
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"metadata":             map[string]string{"user_id": "user-1"},
		"items": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{
					"id":                   "si_1",
					"object":               "subscription_item",
					"current_period_start": start.Unix(),
					"current_period_end":   end.Unix(),
					"price": map[string]interface{}{
						"id":        priceID,
						"object":    "price",
						"recurring": map[string]string{"interval": "month"},
					},
				},
			},
		},
	}
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	f := newFixture(t)
	payload, _ := signedEvent(t, "evt_bad", "invoice.paid", invoiceObject("in_1", "subscription_cycle", time.Now(), time.Now()))

	_, err := f.reconciler.Handle(context.Background(), payload, "t=123,v1=deadbeef")
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = f.reconciler.Handle(context.Background(), payload, "")
	require.ErrorIs(t, err, ErrSignatureInvalid)

	_, found := f.repo.Event("evt_bad")
	assert.False(t, found, "nothing may be persisted before verification")
	assert.Equal(t, int64(0), f.balance(t))
}

func TestCheckoutCompletedActivatesAndGrants(t *testing.T) {
	f := newFixture(t)
	before := time.Now().UTC()

	out, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("pro", "yearly"))
	require.NoError(t, err)
	assert.Equal(t, KindCheckoutCompleted, out.Kind)
	assert.False(t, out.Duplicate)

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, sub.Status)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, "sub_1", sub.ExternalSubscriptionID)
	assert.Equal(t, plans.CycleYearly, sub.BillingCycle)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.WithinDuration(t, before.AddDate(0, 0, 365), *sub.CurrentPeriodEnd, time.Minute)

	assert.Equal(t, int64(500), f.balance(t))

	user, err := f.store.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, user.SubscriptionStatus)
	assert.Equal(t, "pro", user.PlanID())
	require.NotNil(t, user.StripeCustomerID)
	assert.Equal(t, "cus_1", *user.StripeCustomerID)

	stored, ok := f.repo.Event("evt_checkout")
	require.True(t, ok)
	assert.True(t, stored.Succeeded())
}

func TestInvoicePaidReplayGrantsOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("pro", "monthly"))
	require.NoError(t, err)
	require.Equal(t, int64(500), f.balance(t))

	start := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	invoice := invoiceObject("in_renew_1", "subscription_cycle", start, end)

	out, err := f.deliver(t, "evt_invoice_1", "invoice.paid", invoice)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, int64(1000), f.balance(t))

	out, err = f.deliver(t, "evt_invoice_1", "invoice.paid", invoice)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, int64(1000), f.balance(t))

	// Same invoice under a new event ID still grants once.
	_, err = f.deliver(t, "evt_invoice_1_retry", "invoice.paid", invoice)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), f.balance(t))

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, sub.Status)
}

func TestInvoicePaidSkipsFirstInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("basic", "monthly"))
	require.NoError(t, err)

	_, err = f.deliver(t, "evt_first_invoice", "invoice.paid", invoiceObject("in_first", "subscription_create", time.Now(), time.Now().AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestInvoicePaidUsesGatewayPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("basic", "monthly"))
	require.NoError(t, err)
	f.gateway.Subscriptions["sub_1"] = &payment.SubscriptionInfo{ID: "sub_1", PriceID: "price_pro_m", Status: "active"}

	start := time.Now().UTC()
	_, err = f.deliver(t, "evt_upgrade_invoice", "invoice.paid", invoiceObject("in_upgrade", "subscription_cycle", start, start.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(100+500), f.balance(t))

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	out, err := f.deliver(t, "evt_unknown", "customer.tax_id.created", map[string]interface{}{"id": "txi_1"})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, KindUnknown, out.Kind)

	stored, ok := f.repo.Event("evt_unknown")
	require.True(t, ok)
	assert.True(t, stored.Succeeded())
}

func TestSubscriptionUpdatedRequiresLocalSubscription(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	update := subscriptionObject("active", false, "price_pro_m", start, end)

	_, err := f.deliver(t, "evt_sub_updated", "customer.subscription.updated", update)
	require.ErrorIs(t, err, ErrSubscriptionNotFound)

	stored, ok := f.repo.Event("evt_sub_updated")
	require.True(t, ok)
	assert.False(t, stored.Succeeded())
	assert.NotEmpty(t, stored.ProcessingError)

	_, err = f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("basic", "monthly"))
	require.NoError(t, err)

	// The failed delivery is reprocessed on retry.
	out, err := f.deliver(t, "evt_sub_updated", "customer.subscription.updated", update)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, sub.Status)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))

	_, err = f.deliver(t, "evt_sub_past_due", "customer.subscription.updated", subscriptionObject("past_due", true, "price_pro_m", start, end))
	require.NoError(t, err)
	sub, err = f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_INACTIVE, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
}

func TestSubscriptionDeletedCancels(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("pro", "monthly"))
	require.NoError(t, err)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 0, 12)
	_, err = f.deliver(t, "evt_sub_deleted", "customer.subscription.deleted", subscriptionObject("canceled", false, "price_pro_m", start, end))
	require.NoError(t, err)

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_CANCELLED, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.True(t, end.Equal(*sub.CurrentPeriodEnd))

	user, err := f.store.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_CANCELLED, user.SubscriptionStatus)
	assert.Equal(t, int64(500), user.CreditBalance, "cancellation keeps granted credits")
}

func TestPaymentFailedDeactivatesAndBlocksRenewalGrant(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("basic", "monthly"))
	require.NoError(t, err)

	now := time.Now()
	_, err = f.deliver(t, "evt_failed", "invoice.payment_failed", invoiceObject("in_failed", "subscription_cycle", now, now.AddDate(0, 1, 0)))
	require.NoError(t, err)

	sub, err := f.repo.GetSubscriptionByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SUBSCRIPTION_INACTIVE, sub.Status)

	_, err = f.deliver(t, "evt_paid_late", "invoice.paid", invoiceObject("in_late", "subscription_cycle", now, now.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestUserResolvedThroughGatewayCustomer(t *testing.T) {
	f := newFixture(t)
	f.gateway.Customers["cus_unlinked"] = "user-1"

	object := checkoutObject("basic", "monthly")
	object["customer"] = "cus_unlinked"
	object["metadata"] = map[string]string{"plan_id": "basic"}

	_, err := f.deliver(t, "evt_checkout_unlinked", "checkout.session.completed", object)
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t))

	userID, err := f.repo.FindUserIDByCustomer(context.Background(), "cus_unlinked")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	object["customer"] = "cus_stranger"
	object["id"] = "cs_test_2"
	_, err = f.deliver(t, "evt_checkout_stranger", "checkout.session.completed", object)
	assert.ErrorIs(t, err, ErrUserUnresolved)
}

func TestStartCheckoutAndCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.reconciler.StartCheckout(ctx, "user-1", "pro", "year")
	require.NoError(t, err)
	assert.NotEmpty(t, session.URL)
	require.Len(t, f.gateway.Checkouts, 1)
	req := f.gateway.Checkouts[0]
	assert.Equal(t, "price_pro_y", req.PriceID)
	assert.Equal(t, "pro", req.PlanID)
	assert.Equal(t, plans.CycleYearly, req.BillingCycle)
	assert.Equal(t, "https://app.test/success", req.SuccessURL)

	user, err := f.store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, user.StripeCustomerID)
	assert.Equal(t, req.CustomerID, *user.StripeCustomerID)

	_, err = f.reconciler.StartCheckout(ctx, "user-1", "enterprise", "monthly")
	assert.ErrorIs(t, err, plans.ErrPriceNotMapped)
	_, err = f.reconciler.StartCheckout(ctx, "user-1", "pro", "weekly")
	assert.ErrorIs(t, err, plans.ErrInvalidCycle)

	_, err = f.reconciler.RequestCancellation(ctx, "user-1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	_, err = f.deliver(t, "evt_checkout", "checkout.session.completed", checkoutObject("pro", "yearly"))
	require.NoError(t, err)

	sub, err := f.reconciler.RequestCancellation(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.SUBSCRIPTION_ACTIVE, sub.Status)
	assert.Equal(t, []string{"sub_1"}, f.gateway.Cancelled)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindInvoicePaid, Classify("invoice.paid"))
	assert.Equal(t, KindSubscriptionDeleted, Classify("customer.subscription.deleted"))
	assert.Equal(t, KindUnknown, Classify("invoice.payment_succeeded"))
	assert.Equal(t, "invoice.payment_failed", KindInvoicePaymentFailed.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
