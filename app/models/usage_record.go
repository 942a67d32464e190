package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

const (
	SERVICE_COPY            = "copy"
	SERVICE_GRAPHICS        = "graphics"
	SERVICE_VIDEO           = "video"
	SERVICE_AUDIO           = "audio"
	SERVICE_CREDIT_PURCHASE = "credit_purchase"
)

// Metadata is a free-form JSON column.
type Metadata map[string]interface{}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("metadata: unsupported column type")
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// UsageRecord is an immutable ledger entry. CreditsUsed is positive for a debit
// and negative for a credit grant. RequestID is unique across the table.
type UsageRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(36);not null;index:idx_usage_records_user_ts,priority:1" json:"userId"`
	Service     string    `gorm:"type:varchar(32);not null" json:"service"`
	CreditsUsed int64     `gorm:"not null" json:"creditsUsed"`
	RequestID   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"requestId"`
	Timestamp   time.Time `gorm:"not null;index:idx_usage_records_user_ts,priority:2,sort:desc" json:"timestamp"`
	Metadata    Metadata  `gorm:"type:json" json:"metadata,omitempty"`
}

// IsCredit reports whether the record granted credits.
func (r *UsageRecord) IsCredit() bool {
	return r.CreditsUsed < 0
}

// IsGenerationService reports whether s names one of the generation services.
func IsGenerationService(s string) bool {
	switch s {
	case SERVICE_COPY, SERVICE_GRAPHICS, SERVICE_VIDEO, SERVICE_AUDIO:
		return true
	default:
		return false
	}
}
