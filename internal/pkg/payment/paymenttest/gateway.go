// Package paymenttest provides an in-memory payment.Gateway for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
)

// Gateway records calls and answers from configurable state.
type Gateway struct {
	mu sync.Mutex

	ChargeErr     error
	CheckoutErr   error
	Customers     map[string]string // customer ID -> user ID
	Subscriptions map[string]*payment.SubscriptionInfo

	Charges    []payment.ChargeRequest
	Checkouts  []payment.CheckoutRequest
	Cancelled  []string
	nextIntent int
	nextCust   int
}

func New() *Gateway {
	return &Gateway{
		Customers:     make(map[string]string),
		Subscriptions: make(map[string]*payment.SubscriptionInfo),
	}
}

func (g *Gateway) CreateCustomer(_ context.Context, _ string, userID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextCust++
	id := fmt.Sprintf("cus_test_%d", g.nextCust)
	g.Customers[id] = userID
	return id, nil
}

func (g *Gateway) Charge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Charges = append(g.Charges, req)
	if g.ChargeErr != nil {
		return nil, g.ChargeErr
	}
	g.nextIntent++
	return &payment.ChargeResult{
		PaymentIntentID: fmt.Sprintf("pi_test_%d", g.nextIntent),
		Status:          "succeeded",
	}, nil
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CheckoutErr != nil {
		return nil, g.CheckoutErr
	}
	g.Checkouts = append(g.Checkouts, req)
	id := fmt.Sprintf("cs_test_%d", len(g.Checkouts))
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *Gateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Cancelled = append(g.Cancelled, subscriptionID)
	return nil
}

func (g *Gateway) CustomerUserID(_ context.Context, customerID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	userID, ok := g.Customers[customerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", payment.ErrCustomerNotFound, customerID)
	}
	return userID, nil
}

func (g *Gateway) GetSubscription(_ context.Context, subscriptionID string) (*payment.SubscriptionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	return info, nil
}

// ChargeCount returns how many charges were attempted.
func (g *Gateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}

var _ payment.Gateway = (*Gateway)(nil)
