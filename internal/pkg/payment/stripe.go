package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Metadata keys written on gateway objects so webhooks can be mapped back
// without string lookups on display names.
const (
	MetaUserID       = "user_id"
	MetaPlanID       = "plan_id"
	MetaBillingCycle = "billing_cycle"
	MetaCreditAmount = "credit_amount"
)

// StripeGateway implements Gateway with stripe-go.
type StripeGateway struct {
	currency string
}

// NewStripeGateway sets the global Stripe key and returns the gateway.
func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, ErrNotConfigured
	}
	stripe.Key = secretKey
	return &StripeGateway{currency: string(stripe.CurrencyUSD)}, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata(MetaUserID, userID)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	log.Infof("[Stripe] Created customer %s for user %s", c.ID, userID)
	return c.ID, nil
}

// Charge creates and confirms a payment intent in one call.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %d", req.AmountCents)
	}
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, se.Msg)
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrPaymentDeclined, pi.ID, pi.Status)
	}
	return &ChargeResult{PaymentIntentID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	meta := map[string]string{
		MetaUserID:       req.UserID,
		MetaPlanID:       req.PlanID,
		MetaBillingCycle: req.BillingCycle,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *StripeGateway) CustomerUserID(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := customer.Get(customerID, params)
	if err != nil {
		return "", fmt.Errorf("get stripe customer %s: %w", customerID, err)
	}
	if c.Deleted || c.Metadata[MetaUserID] == "" {
		return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return c.Metadata[MetaUserID], nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription %s: %w", subscriptionID, err)
	}

	info := &SubscriptionInfo{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
		PlanID:   s.Metadata[MetaPlanID],
		UserID:   s.Metadata[MetaUserID],
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		info.PriceID = s.Items.Data[0].Price.ID
	}
	return info, nil
}
