package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// UserRepository defines the account operations used by the HTTP layer.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByAPIKeyPrefix(ctx context.Context, prefix string) (*models.User, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, offset, limit int) ([]models.User, error)
	Count(ctx context.Context) (int64, error)
}

// Repositories bundles all repositories.
type Repositories struct {
	User UserRepository
}
