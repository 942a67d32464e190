package billing

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
)

// UserStore is the account access MemoryRepository needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateUser(userID string, fn func(u *models.User)) error
}

// MemoryRepository keeps billing state in process. Accounts live in the
// shared UserStore so ledger balances and subscription mirrors stay in one place.
type MemoryRepository struct {
	mu        sync.Mutex
	users     UserStore
	events    []*models.WebhookEvent
	subs      map[string]*models.Subscription
	customers map[string]string
}

func NewMemoryRepository(users UserStore) *MemoryRepository {
	return &MemoryRepository{
		users:     users,
		subs:      make(map[string]*models.Subscription),
		customers: make(map[string]string),
	}
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			cp := *e
			return false, &cp, nil
		}
	}
	now := time.Now()
	event.ID = uint(len(r.events) + 1)
	event.CreatedAt = now
	event.UpdatedAt = now
	stored := *event
	r.events = append(r.events, &stored)
	cp := stored
	return true, &cp, nil
}

func (r *MemoryRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			e.UpdatedAt = now
			return nil
		}
	}
	return nil
}

// Event returns a stored webhook event by provider event ID.
func (r *MemoryRepository) Event(providerEventID string) (models.WebhookEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ProviderEventID == providerEventID {
			return *e, true
		}
	}
	return models.WebhookEvent{}, false
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return r.users.GetUser(ctx, userID)
}

func (r *MemoryRepository) FindUserIDByCustomer(_ context.Context, customerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.customers[customerID]
	if !ok {
		return "", ledger.ErrUserNotFound
	}
	return userID, nil
}

func (r *MemoryRepository) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.users.UpdateUser(userID, func(u *models.User) {
		id := customerID
		u.StripeCustomerID = &id
	}); err != nil {
		return err
	}
	r.customers[customerID] = userID
	return nil
}

func (r *MemoryRepository) GetSubscriptionByUser(_ context.Context, userID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *MemoryRepository) FindSubscriptionByExternalID(_ context.Context, externalID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ExternalSubscriptionID == externalID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (r *MemoryRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.users.UpdateUser(sub.UserID, func(u *models.User) {
		plan := sub.PlanID
		u.SubscriptionStatus = sub.Status
		u.CurrentPlanID = &plan
		u.BillingCycle = sub.BillingCycle
		u.NextBillingDate = sub.CurrentPeriodEnd
	})
	if err != nil {
		return err
	}

	now := time.Now()
	if existing, ok := r.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = uint(len(r.subs) + 1)
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
