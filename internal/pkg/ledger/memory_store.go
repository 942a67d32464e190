package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
)

// MemoryStore is an in-process Store. Its mutex plays the role of the row
// lock: every mutation runs as one critical section.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	usage     []models.UsageRecord
	requests  map[string]int // request ID -> index into usage
	purchases []models.PurchaseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		requests: make(map[string]int),
	}
}

// AddUser inserts or replaces an account.
func (m *MemoryStore) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.users[u.ID] = &cp
}

// UpdateUser applies fn to a stored account under the store lock.
func (m *MemoryStore) UpdateUser(userID string, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) Debit(_ context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[rec.UserID]
	if !ok {
		return ErrUserNotFound
	}
	if i, dup := m.requests[rec.RequestID]; dup {
		return duplicateDebit(&m.usage[i], rec)
	}
	if u.CreditBalance < rec.CreditsUsed {
		return ErrInsufficientCredits
	}

	u.CreditBalance -= rec.CreditsUsed
	u.UpdatedAt = time.Now()
	m.appendUsage(rec)
	return nil
}

func (m *MemoryStore) Credit(_ context.Context, rec *models.UsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[rec.UserID]
	if !ok {
		return false, ErrUserNotFound
	}
	if _, dup := m.requests[rec.RequestID]; dup {
		return false, nil
	}

	u.CreditBalance -= rec.CreditsUsed
	u.UpdatedAt = time.Now()
	m.appendUsage(rec)
	return true, nil
}

func (m *MemoryStore) appendUsage(rec *models.UsageRecord) {
	rec.ID = uint(len(m.usage) + 1)
	m.usage = append(m.usage, *rec)
	m.requests[rec.RequestID] = len(m.usage) - 1
}

func (m *MemoryStore) ListUsage(_ context.Context, userID string, w Window, limit int) ([]models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.UsageRecord
	for _, r := range m.usage {
		if r.UserID == userID && w.contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPurchases(_ context.Context, userID string, w Window, limit int) ([]models.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PurchaseRecord
	for _, p := range m.purchases {
		if p.UserID == userID && w.contains(p.CreatedAt) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreatePurchase(_ context.Context, p *models.PurchaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IdempotencyKey != nil && m.purchaseByKey(p.UserID, *p.IdempotencyKey) != nil {
		return ErrDuplicatePurchase
	}
	now := time.Now()
	p.ID = uint(len(m.purchases) + 1)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.purchases = append(m.purchases, *p)
	return nil
}

func (m *MemoryStore) FindPurchaseByIdempotencyKey(_ context.Context, userID, key string) (*models.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.purchaseByKey(userID, key); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) purchaseByKey(userID, key string) *models.PurchaseRecord {
	for i := range m.purchases {
		p := &m.purchases[i]
		if p.UserID == userID && p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return p
		}
	}
	return nil
}

func (m *MemoryStore) FinishPurchase(_ context.Context, id uint, status, paymentIntentID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.purchases {
		p := &m.purchases[i]
		if p.ID != id {
			continue
		}
		if p.Status != models.PURCHASE_PENDING {
			return ErrPurchaseFinal
		}
		p.Status = status
		p.PaymentIntentID = paymentIntentID
		p.FailureReason = reason
		p.UpdatedAt = time.Now()
		return nil
	}
	return ErrPurchaseFinal
}

// Purchase returns a copy of a purchase record by ID.
func (m *MemoryStore) Purchase(id uint) (models.PurchaseRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.ID == id {
			return p, true
		}
	}
	return models.PurchaseRecord{}, false
}

// UsageCount returns the number of usage records for userID.
func (m *MemoryStore) UsageCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.usage {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
