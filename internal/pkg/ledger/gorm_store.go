package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by the users, usage_records and
// purchase_records tables.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// lockUser takes the row lock every balance mutation for userID serializes on.
func lockUser(tx *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "credit_balance").
		Where("id = ?", userID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	return &user, nil
}

// recordedRequest returns the usage record holding requestID, or nil.
func recordedRequest(tx *gorm.DB, requestID string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := tx.Where("request_id = ?", requestID).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("lookup request %s: %w", requestID, err)
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (s *gormStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *gormStore) Debit(ctx context.Context, rec *models.UsageRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, rec.UserID)
		if err != nil {
			return err
		}

		existing, err := recordedRequest(tx, rec.RequestID)
		if err != nil {
			return err
		}
		if existing != nil {
			return duplicateDebit(existing, rec)
		}

		if user.CreditBalance < rec.CreditsUsed {
			return ErrInsufficientCredits
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND credit_balance >= ?", rec.UserID, rec.CreditsUsed).
			Update("credit_balance", gorm.Expr("credit_balance - ?", rec.CreditsUsed))
		if res.Error != nil {
			return fmt.Errorf("decrement balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		if err := tx.Create(rec).Error; err != nil {
			// the user row lock serializes this account, so the clash is another account's entry
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrRequestConflict
			}
			return fmt.Errorf("insert usage record: %w", err)
		}
		return nil
	})
}

func (s *gormStore) Credit(ctx context.Context, rec *models.UsageRecord) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockUser(tx, rec.UserID); err != nil {
			return err
		}

		existing, err := recordedRequest(tx, rec.RequestID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", rec.UserID).
			Update("credit_balance", gorm.Expr("credit_balance + ?", -rec.CreditsUsed))
		if res.Error != nil {
			return fmt.Errorf("increment balance: %w", res.Error)
		}

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func applyWindow(q *gorm.DB, column string, w Window) *gorm.DB {
	if w.Start != nil {
		q = q.Where(column+" >= ?", *w.Start)
	}
	if w.End != nil {
		q = q.Where(column+" <= ?", *w.End)
	}
	return q
}

func (s *gormStore) ListUsage(ctx context.Context, userID string, w Window, limit int) ([]models.UsageRecord, error) {
	var out []models.UsageRecord
	q := applyWindow(s.db.WithContext(ctx).Where("user_id = ?", userID), "timestamp", w)
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	return out, nil
}

func (s *gormStore) ListPurchases(ctx context.Context, userID string, w Window, limit int) ([]models.PurchaseRecord, error) {
	var out []models.PurchaseRecord
	q := applyWindow(s.db.WithContext(ctx).Where("user_id = ?", userID), "created_at", w)
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list purchase records: %w", err)
	}
	return out, nil
}

func (s *gormStore) CreatePurchase(ctx context.Context, p *models.PurchaseRecord) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePurchase
		}
		return fmt.Errorf("create purchase record: %w", err)
	}
	return nil
}

func (s *gormStore) FindPurchaseByIdempotencyKey(ctx context.Context, userID, key string) (*models.PurchaseRecord, error) {
	var p models.PurchaseRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Limit(1).Find(&p).Error
	if err != nil {
		return nil, fmt.Errorf("find purchase by idempotency key: %w", err)
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (s *gormStore) FinishPurchase(ctx context.Context, id uint, status, paymentIntentID, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.PurchaseRecord{}).
		Where("id = ? AND status = ?", id, models.PURCHASE_PENDING).
		Updates(map[string]interface{}{
			"status":            status,
			"payment_intent_id": paymentIntentID,
			"failure_reason":    reason,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("finish purchase %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPurchaseFinal
	}
	return nil
}
