// Package billing reconciles payment gateway webhooks into subscription state
// and ledger credit grants.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// CreditGranter is the ledger capability the reconciler grants credits through.
type CreditGranter interface {
	CreditWithMetadata(ctx context.Context, userID string, amount int64, requestID string, meta models.Metadata) (bool, error)
}

type Config struct {
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Reconciler applies verified gateway events to local state. Every credit
// grant uses the event's natural key as ledger request ID, so replays are safe
// even when the webhook_events short-circuit misses.
type Reconciler struct {
	repo    Repository
	credits CreditGranter
	catalog *plans.Catalog
	gateway payment.Gateway
	cfg     Config
	now     func() time.Time
}

// NewReconciler wires a reconciler. gateway may be nil, in which case
// checkout, cancellation and gateway lookups are unavailable.
func NewReconciler(repo Repository, credits CreditGranter, catalog *plans.Catalog, gateway payment.Gateway, cfg Config) *Reconciler {
	if catalog == nil {
		catalog = plans.Default()
	}
	return &Reconciler{
		repo:    repo,
		credits: credits,
		catalog: catalog,
		gateway: gateway,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Handle verifies and applies one webhook delivery.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error) {
	event, err := r.verify(payload, signatureHeader)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      Classify(string(event.Type)),
	}

	created, stored, err := r.repo.CreateWebhookEventIfNotExists(ctx, &models.WebhookEvent{
		Provider:        models.WebhookProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event %s: %w", event.ID, err)
	}
	if !created && stored.Succeeded() {
		log.Infof("[Reconciler] Event %s (%s) already processed", event.ID, event.Type)
		out.Duplicate = true
		return out, nil
	}

	if out.Kind == KindUnknown {
		log.Infof("[Reconciler] Ignoring unhandled event type %s (%s)", event.Type, event.ID)
		out.Ignored = true
	}

	procErr := r.apply(ctx, out.Kind, &event)
	errText := ""
	if procErr != nil {
		errText = procErr.Error()
		log.Errorf("[Reconciler] Event %s (%s) failed: %v", event.ID, event.Type, procErr)
	}
	if err := r.repo.MarkWebhookProcessed(ctx, stored.ID, errText); err != nil {
		log.Warnf("[Reconciler] Failed to mark event %s processed: %v", event.ID, err)
	}
	if procErr != nil {
		return out, procErr
	}
	return out, nil
}

func (r *Reconciler) verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	secret := strings.TrimSpace(r.cfg.WebhookSecret)
	if secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if event.ID == "" || event.Data == nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, ErrMalformedEvent)
	}
	return event, nil
}

func (r *Reconciler) apply(ctx context.Context, kind EventKind, event *stripe.Event) error {
	switch kind {
	case KindCheckoutCompleted:
		return r.onCheckoutCompleted(ctx, event)
	case KindSubscriptionCreated, KindSubscriptionUpdated:
		return r.onSubscriptionChanged(ctx, event)
	case KindSubscriptionDeleted:
		return r.onSubscriptionDeleted(ctx, event)
	case KindInvoicePaid:
		return r.onInvoicePaid(ctx, event)
	case KindInvoicePaymentFailed:
		return r.onInvoicePaymentFailed(ctx, event)
	default:
		return nil
	}
}

// resolveUser finds the local account for a gateway object: metadata first,
// then the stored customer link, then the gateway customer's metadata.
func (r *Reconciler) resolveUser(ctx context.Context, meta map[string]string, customerID string) (string, error) {
	if id := metaUserID(meta); id != "" {
		return id, nil
	}
	if customerID != "" {
		userID, err := r.repo.FindUserIDByCustomer(ctx, customerID)
		if err == nil {
			return userID, nil
		}
		if r.gateway != nil {
			userID, gerr := r.gateway.CustomerUserID(ctx, customerID)
			if gerr == nil && userID != "" {
				return userID, nil
			}
			if gerr != nil {
				log.Warnf("[Reconciler] Customer %s lookup failed: %v", customerID, gerr)
			}
		}
	}
	return "", fmt.Errorf("%w: customer %q", ErrUserUnresolved, customerID)
}

// resolvePlan maps a gateway object to a catalog plan by stable ID: metadata
// plan_id, then the price mapping, then the plan already on file.
func (r *Reconciler) resolvePlan(ctx context.Context, userID string, meta map[string]string, priceID string) (plans.Plan, error) {
	if id := strings.TrimSpace(meta[payment.MetaPlanID]); id != "" {
		if p, err := r.catalog.Get(id); err == nil {
			return p, nil
		}
		log.Warnf("[Reconciler] Unknown plan_id %q in metadata", id)
	}
	if priceID != "" {
		if p, err := r.catalog.ByPriceID(priceID); err == nil {
			return p, nil
		}
	}
	if userID != "" {
		sub, err := r.repo.GetSubscriptionByUser(ctx, userID)
		if err == nil {
			return r.catalog.Get(sub.PlanID)
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return plans.Plan{}, err
		}
	}
	return plans.Plan{}, fmt.Errorf("%w: price %q", ErrPlanUnresolved, priceID)
}

func (r *Reconciler) grant(ctx context.Context, userID string, plan plans.Plan, requestID, reason, eventID string) error {
	if plan.Credits <= 0 {
		return nil
	}
	applied, err := r.credits.CreditWithMetadata(ctx, userID, plan.Credits, requestID, models.Metadata{
		"reason":  reason,
		"planId":  plan.ID,
		"eventId": eventID,
	})
	if err != nil {
		return fmt.Errorf("grant %d credits to %s: %w", plan.Credits, userID, err)
	}
	if applied {
		log.Infof("[Reconciler] Granted %d credits (%s) to user %s", plan.Credits, plan.ID, userID)
	} else {
		log.Infof("[Reconciler] Credits for %s already granted to user %s", requestID, userID)
	}
	return nil
}

func metaUserID(meta map[string]string) string {
	if meta == nil {
		return ""
	}
	if id := strings.TrimSpace(meta[payment.MetaUserID]); id != "" {
		return id
	}
	return strings.TrimSpace(meta["userId"])
}
