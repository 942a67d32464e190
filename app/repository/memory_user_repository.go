package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
)

// MemoryUserRepository keeps accounts in process memory for handler tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*models.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return ErrDuplicate
	}
	for _, u := range r.users {
		if u.Email == user.Email || (user.APIKeyPrefix != "" && u.APIKeyPrefix == user.APIKeyPrefix) {
			return ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) find(match func(u *models.User) bool) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.find(func(u *models.User) bool { return u.Email == email })
}

func (r *MemoryUserRepository) GetByAPIKeyPrefix(_ context.Context, prefix string) (*models.User, error) {
	if prefix == "" {
		return nil, ErrNotFound
	}
	return r.find(func(u *models.User) bool { return u.APIKeyPrefix == prefix && u.APIKeyHash != "" })
}

func (r *MemoryUserRepository) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.APIKeyLastUsedAt = &at
	}
	return nil
}

func (r *MemoryUserRepository) List(_ context.Context, offset, limit int) ([]models.User, error) {
	r.mu.RLock()
	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []models.User{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.users)), nil
}

var _ UserRepository = (*MemoryUserRepository)(nil)
