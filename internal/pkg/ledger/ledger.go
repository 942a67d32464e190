// Package ledger owns credit balances and the immutable usage and purchase
// records behind them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/gofiber/fiber/v2/log"
)

// Service is the credit ledger. It holds no balance state of its own; every
// read goes to the store.
type Service struct {
	store   Store
	catalog *plans.Catalog
	gateway payment.Gateway
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGateway enables PurchaseCredits.
func WithGateway(g payment.Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, catalog *plans.Catalog, opts ...Option) *Service {
	if catalog == nil {
		catalog = plans.Default()
	}
	s := &Service{store: store, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Balance is the API view of an account balance.
type Balance struct {
	Balance     int64     `json:"balance"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.CreditBalance, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Balance{Balance: u.CreditBalance, LastUpdated: u.UpdatedAt}, nil
}

// Debit spends amount credits on service. The balance check, decrement and
// usage record happen in one store transaction.
func (s *Service) Debit(ctx context.Context, userID, service string, amount int64, requestID string) (*models.UsageRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, ErrInvalidRequestID
	}
	if !models.IsGenerationService(service) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	rec := &models.UsageRecord{
		UserID:      userID,
		Service:     service,
		CreditsUsed: amount,
		RequestID:   requestID,
		Timestamp:   s.now().UTC(),
	}
	if err := s.store.Debit(ctx, rec); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			log.Infof("[Ledger] Debit of %d for user %s rejected: insufficient credits", amount, userID)
		}
		return nil, err
	}
	return rec, nil
}

// Use debits a client tracked request. The client's request ID is scoped to
// the account, and the returned record carries it unscoped.
func (s *Service) Use(ctx context.Context, userID, service string, amount int64, clientRequestID string) (*models.UsageRecord, error) {
	if strings.TrimSpace(clientRequestID) == "" {
		return nil, ErrInvalidRequestID
	}
	rec, err := s.Debit(ctx, userID, service, amount, UseRequestID(userID, clientRequestID))
	if err != nil {
		return nil, err
	}
	rec.RequestID = clientRequestID
	return rec, nil
}

// Credit grants amount credits. Replaying a requestID is a no-op.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reason, requestID string) error {
	_, err := s.CreditWithMetadata(ctx, userID, amount, requestID, models.Metadata{"reason": reason})
	return err
}

// CreditWithMetadata is Credit with extra audit metadata. It reports whether
// the grant was applied or already recorded.
func (s *Service) CreditWithMetadata(ctx context.Context, userID string, amount int64, requestID string, meta models.Metadata) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if strings.TrimSpace(requestID) == "" {
		return false, ErrInvalidRequestID
	}

	rec := &models.UsageRecord{
		UserID:      userID,
		Service:     models.SERVICE_CREDIT_PURCHASE,
		CreditsUsed: -amount,
		RequestID:   requestID,
		Timestamp:   s.now().UTC(),
		Metadata:    meta,
	}
	applied, err := s.store.Credit(ctx, rec)
	if err != nil {
		return false, err
	}
	if applied {
		log.Infof("[Ledger] Credited %d to user %s (request %s)", amount, userID, requestID)
	} else {
		log.Debugf("[Ledger] Credit for request %s already applied", requestID)
	}
	return applied, nil
}

// ServiceCost returns the credit cost of one generation for the user's plan.
func (s *Service) ServiceCost(ctx context.Context, userID, service string) (int64, error) {
	if !models.IsGenerationService(service) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	planID := ""
	if u.HasActiveSubscription() {
		planID = u.PlanID()
	}
	return s.catalog.CreditCost(planID, service)
}

// HistoryEntry is one row of the merged transaction history.
type HistoryEntry struct {
	Type      string          `json:"type"`
	ID        uint            `json:"id"`
	Service   string          `json:"service,omitempty"`
	Credits   int64           `json:"credits"`
	Cost      int64           `json:"cost,omitempty"`
	Status    string          `json:"status,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  models.Metadata `json:"metadata,omitempty"`
}

const (
	EntryUsage    = "usage"
	EntryPurchase = "purchase"
)

// GetHistory merges usage and purchase records newest first, capped at
// HistoryLimit entries.
func (s *Service) GetHistory(ctx context.Context, userID string, start, end *time.Time) ([]HistoryEntry, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	w := Window{Start: start, End: end}

	usage, err := s.store.ListUsage(ctx, userID, w, HistoryLimit)
	if err != nil {
		return nil, err
	}
	purchases, err := s.store.ListPurchases(ctx, userID, w, HistoryLimit)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(usage)+len(purchases))
	for _, u := range usage {
		out = append(out, HistoryEntry{
			Type:      EntryUsage,
			ID:        u.ID,
			Service:   u.Service,
			Credits:   u.CreditsUsed,
			RequestID: ClientRequestID(userID, u.RequestID),
			Timestamp: u.Timestamp,
			Metadata:  u.Metadata,
		})
	}
	for _, p := range purchases {
		out = append(out, HistoryEntry{
			Type:      EntryPurchase,
			ID:        p.ID,
			Credits:   p.Amount,
			Cost:      p.Cost,
			Status:    p.Status,
			Timestamp: p.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > HistoryLimit {
		out = out[:HistoryLimit]
	}
	return out, nil
}
