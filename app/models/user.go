package models

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	SUBSCRIPTION_ACTIVE    = "active"
	SUBSCRIPTION_INACTIVE  = "inactive"
	SUBSCRIPTION_CANCELLED = "cancelled"

	BILLING_MONTHLY = "monthly"
	BILLING_YEARLY  = "yearly"
)

// APIKeyPrefix marks keys issued by this service.
const APIKeyPrefix = "cf_"

var ErrMalformedAPIKey = errors.New("malformed api key")

// User is a tenant account. CreditBalance is only ever changed through the
// ledger's conditional increment/decrement statements.
type User struct {
	ID                 string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email              string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	CreditBalance      int64      `gorm:"not null;default:0;check:chk_users_credit_balance,credit_balance >= 0" json:"credit_balance" validate:"gte=0"`
	SubscriptionStatus string     `gorm:"type:varchar(20);not null;default:'inactive'" json:"subscription_status" validate:"oneof=active inactive cancelled"`
	CurrentPlanID      *string    `gorm:"type:varchar(50);default:null" json:"current_plan_id,omitempty"`
	BillingCycle       string     `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_cycle" validate:"oneof=monthly yearly"`
	NextBillingDate    *time.Time `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	StripeCustomerID   *string    `gorm:"type:varchar(100);uniqueIndex;default:null" json:"-"`
	APIKeyPrefix       string     `gorm:"type:varchar(16);uniqueIndex" json:"-"`
	APIKeyHash         string     `gorm:"type:varchar(100)" json:"-"`
	APIKeyLastUsedAt   *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateUser builds a new account and issues its API key. The plaintext key is
// returned once and never stored.
func CreateUser(email string) (*User, string, error) {
	u := &User{
		ID:                 uuid.New().String(),
		Email:              strings.ToLower(strings.TrimSpace(email)),
		SubscriptionStatus: SUBSCRIPTION_INACTIVE,
		BillingCycle:       BILLING_MONTHLY,
	}

	if err := u.Validate(); err != nil {
		return nil, "", err
	}

	key, err := u.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	return u, key, nil
}

// GenerateAPIKey creates a key of the form cf_<prefix>.<secret>, stores the
// prefix for lookup and a bcrypt hash of the secret.
func (u *User) GenerateAPIKey() (string, error) {
	prefix, err := randomHex(6)
	if err != nil {
		return "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	u.APIKeyPrefix = prefix
	u.APIKeyHash = string(hash)

	return APIKeyPrefix + prefix + "." + secret, nil
}

// CheckAPIKeySecret compares a presented secret with the stored hash.
func (u *User) CheckAPIKeySecret(secret string) bool {
	if u.APIKeyHash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(u.APIKeyHash), []byte(secret))

	return err == nil
}

// SplitAPIKey returns the lookup prefix and secret of a presented key.
func SplitAPIKey(key string) (string, string, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return "", "", ErrMalformedAPIKey
	}
	prefix, secret, ok := strings.Cut(strings.TrimPrefix(key, APIKeyPrefix), ".")
	if !ok || prefix == "" || secret == "" {
		return "", "", ErrMalformedAPIKey
	}
	return prefix, secret, nil
}

// HasActiveSubscription reports whether the mirrored subscription state is active.
func (u *User) HasActiveSubscription() bool {
	return u.SubscriptionStatus == SUBSCRIPTION_ACTIVE
}

// PlanID returns the current plan or an empty string.
func (u *User) PlanID() string {
	if u.CurrentPlanID == nil {
		return ""
	}
	return *u.CurrentPlanID
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
