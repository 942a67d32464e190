package models

import "time"

// Subscription mirrors the gateway subscription of a user (one per user).
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"userId"`
	PlanID                 string     `gorm:"type:varchar(50);not null;index" json:"planId"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'inactive';index" json:"status"`
	ExternalSubscriptionID string     `gorm:"type:varchar(191);index" json:"externalSubscriptionId"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancelAtPeriodEnd"`
	BillingCycle           string     `gorm:"type:varchar(10);not null;default:'monthly'" json:"billingCycle"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// IsActive reports whether the subscription currently entitles the user.
func (s *Subscription) IsActive() bool {
	return s.Status == SUBSCRIPTION_ACTIVE
}
