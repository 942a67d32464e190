package billing

import (
	"errors"
	"time"
)

var (
	// ErrSignatureInvalid rejects a webhook before anything is persisted.
	ErrSignatureInvalid     = errors.New("webhook signature invalid")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserUnresolved       = errors.New("cannot resolve user for gateway object")
	ErrPlanUnresolved       = errors.New("cannot resolve plan for gateway object")
	ErrMalformedEvent       = errors.New("malformed webhook event")
	ErrSubscriptionInactive = errors.New("subscription is not active")
)

// EventKind is the closed set of webhook events the reconciler acts on.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaid
	KindInvoicePaymentFailed
)

var eventKinds = map[string]EventKind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.paid":                  KindInvoicePaid,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
}

// Classify maps a gateway event type onto an EventKind.
func Classify(eventType string) EventKind {
	if k, ok := eventKinds[eventType]; ok {
		return k
	}
	return KindUnknown
}

func (k EventKind) String() string {
	for name, kind := range eventKinds {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Outcome describes what Handle did with a delivery.
type Outcome struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Kind      EventKind `json:"-"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Ignored   bool      `json:"ignored,omitempty"`
}

// Period is a subscription billing period.
type Period struct {
	Start time.Time
	End   time.Time
}

// periodFor computes the locally granted period for a fresh checkout.
func periodFor(now time.Time, cycle string) Period {
	days := 30
	if cycle == "yearly" {
		days = 365
	}
	return Period{Start: now, End: now.AddDate(0, 0, days)}
}

func unixPeriod(start, end int64) *Period {
	if start <= 0 || end <= 0 {
		return nil
	}
	return &Period{Start: time.Unix(start, 0).UTC(), End: time.Unix(end, 0).UTC()}
}
