package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the persistence used by the reconciler.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error

	GetUser(ctx context.Context, userID string) (*models.User, error)
	FindUserIDByCustomer(ctx context.Context, customerID string) (string, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error

	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	// SaveSubscription upserts by user and mirrors status, plan, cycle and
	// next billing date onto the user row in the same transaction.
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindUserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	var u models.User
	err := r.db.WithContext(ctx).Select("id").Where("stripe_customer_id = ?", customerID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ledger.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (r *gormRepository) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("stripe_customer_id", customerID).Error
	})
}

func userExists(tx *gorm.DB, userID string) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

func (r *gormRepository) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("external_subscription_id = ?", externalID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userExists(tx, sub.UserID); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_id",
				"status",
				"external_subscription_id",
				"current_period_start",
				"current_period_end",
				"cancel_at_period_end",
				"billing_cycle",
				"updated_at",
			}),
		}).Create(sub).Error; err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}

		if err := tx.Model(&models.User{}).Where("id = ?", sub.UserID).Updates(userMirror(sub)).Error; err != nil {
			return fmt.Errorf("mirror subscription to user: %w", err)
		}

		// Ensure ID is populated after upsert.
		var stored models.Subscription
		if err := tx.Where("user_id = ?", sub.UserID).First(&stored).Error; err != nil {
			return err
		}
		*sub = stored
		return nil
	})
}

func userMirror(sub *models.Subscription) map[string]interface{} {
	plan := sub.PlanID
	return map[string]interface{}{
		"subscription_status": sub.Status,
		"current_plan_id":     &plan,
		"billing_cycle":       sub.BillingCycle,
		"next_billing_date":   sub.CurrentPeriodEnd,
	}
}
