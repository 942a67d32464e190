package models

import "time"

const (
	PURCHASE_PENDING   = "pending"
	PURCHASE_COMPLETED = "completed"
	PURCHASE_FAILED    = "failed"
)

// PurchaseRecord tracks a one-off credit purchase. Status moves from pending to
// completed or failed exactly once.
type PurchaseRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"type:varchar(36);not null;index:idx_purchase_records_user_created,priority:1;uniqueIndex:idx_purchase_records_user_idempotency,priority:1" json:"userId"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Cost            int64     `gorm:"not null" json:"cost"`
	Status          string    `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	PaymentMethodID string    `gorm:"type:varchar(100)" json:"paymentMethodId"`
	PaymentIntentID string    `gorm:"type:varchar(100);index" json:"paymentIntentId,omitempty"`
	// IdempotencyKey is the client's Idempotency-Key; NULL rows never collide.
	IdempotencyKey *string `gorm:"type:varchar(191);uniqueIndex:idx_purchase_records_user_idempotency,priority:2" json:"-"`
	FailureReason   string    `gorm:"type:text" json:"failureReason,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_purchase_records_user_created,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// IsFinal reports whether the purchase left the pending state.
func (p *PurchaseRecord) IsFinal() bool {
	return p.Status == PURCHASE_COMPLETED || p.Status == PURCHASE_FAILED
}
