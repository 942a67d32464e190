package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

type checkoutRequest struct {
	PlanID       string `json:"planId" validate:"required"`
	BillingCycle string `json:"billingCycle" validate:"omitempty,oneof=monthly yearly"`
}

// HandleStripeWebhook verifies and applies a Stripe event. Any non-2xx makes
// Stripe retry the delivery.
func (ac *APIController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	outcome, err := ac.billing.Handle(ctx, rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrSignatureInvalid) {
			log.Warnf("[Webhook] Rejected delivery: %v", err)
			return apiError(c, fiber.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		}
		tags := map[string]string{"component": "webhook"}
		if outcome != nil {
			tags["event_type"] = outcome.EventType
			tags["event_id"] = outcome.EventID
		}
		monitoring.CaptureError(err, tags)
		return apiError(c, fiber.StatusInternalServerError, "webhook_processing_failed", err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"eventId":   outcome.EventID,
		"duplicate": outcome.Duplicate,
		"ignored":   outcome.Ignored,
	})
}

// HandleCheckout starts a hosted subscription checkout.
func (ac *APIController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := bindBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	if req.BillingCycle == "" {
		req.BillingCycle = "monthly"
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	session, err := ac.billing.StartCheckout(ctx, usercontext.GetUserID(c), req.PlanID, req.BillingCycle)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": session.ID,
		"url":       session.URL,
	})
}

// HandleCancelSubscription cancels at the end of the current period.
func (ac *APIController) HandleCancelSubscription(c *fiber.Ctx) error {
	ctx, cancel := ac.requestContext(c)
	defer cancel()

	sub, err := ac.billing.RequestCancellation(ctx, usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
