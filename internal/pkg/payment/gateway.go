package payment

import (
	"context"
	"errors"
)

var (
	ErrPaymentDeclined  = errors.New("payment: declined")
	ErrCustomerNotFound = errors.New("payment: customer not found")
	ErrNotConfigured    = errors.New("payment: gateway not configured")
)

// ChargeRequest describes a one-off charge in the smallest currency unit.
type ChargeRequest struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Currency        string
	IdempotencyKey  string
	Metadata        map[string]string
}

// ChargeResult is the confirmed payment intent.
type ChargeResult struct {
	PaymentIntentID string
	Status          string
}

// CheckoutRequest starts a subscription checkout for a plan price.
type CheckoutRequest struct {
	CustomerID   string
	PriceID      string
	UserID       string
	PlanID       string
	BillingCycle string
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is the hosted checkout the client is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionInfo is the subset of a gateway subscription used to resolve plans.
type SubscriptionInfo struct {
	ID       string
	PlanID   string
	PriceID  string
	UserID   string
	Status   string
	Metadata map[string]string
}

// Gateway is the payment processor capability the ledger and the reconciler
// call through.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	CustomerUserID(ctx context.Context, customerID string) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
}
