package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/app/repository"
	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/generation"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
)

var validate = validator.New()

// errorMapping ties a sentinel to its response.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{ledger.ErrInsufficientCredits, fiber.StatusPaymentRequired, "insufficient_credits"},
	{ledger.ErrPaymentFailed, fiber.StatusPaymentRequired, "payment_failed"},
	{payment.ErrPaymentDeclined, fiber.StatusPaymentRequired, "payment_failed"},
	{ledger.ErrUserNotFound, fiber.StatusNotFound, "not_found"},
	{repository.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{jobqueue.ErrJobNotFound, fiber.StatusNotFound, "not_found"},
	{billing.ErrSubscriptionNotFound, fiber.StatusNotFound, "not_found"},
	{ledger.ErrDuplicateRequest, fiber.StatusConflict, "duplicate_request"},
	{ledger.ErrRequestConflict, fiber.StatusConflict, "request_conflict"},
	{repository.ErrDuplicate, fiber.StatusConflict, "conflict"},
	{billing.ErrSubscriptionInactive, fiber.StatusConflict, "subscription_inactive"},
	{ledger.ErrInvalidAmount, fiber.StatusBadRequest, "bad_request"},
	{ledger.ErrInvalidRequestID, fiber.StatusBadRequest, "bad_request"},
	{ledger.ErrUnknownService, fiber.StatusBadRequest, "unknown_service"},
	{plans.ErrUnknownService, fiber.StatusBadRequest, "unknown_service"},
	{generation.ErrUnknownService, fiber.StatusBadRequest, "unknown_service"},
	{generation.ErrInvalidRequest, fiber.StatusBadRequest, "bad_request"},
	{plans.ErrPlanNotFound, fiber.StatusBadRequest, "unknown_plan"},
	{plans.ErrInvalidCycle, fiber.StatusBadRequest, "bad_request"},
	{billing.ErrSignatureInvalid, fiber.StatusBadRequest, "invalid_signature"},
	{payment.ErrNotConfigured, fiber.StatusServiceUnavailable, "not_configured"},
	{plans.ErrPriceNotMapped, fiber.StatusServiceUnavailable, "not_configured"},
}

// apiError writes the common {"error","message"} body.
func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// handleServiceError maps domain errors to a status. Anything unmapped is a
// 500 and gets reported.
func handleServiceError(c *fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return apiError(c, m.status, m.code, err.Error())
		}
	}
	log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	monitoring.Remember(c, err)
	return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "internal error")
}

// bindBody parses and validates a JSON body into dst.
func bindBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return errors.New(describeValidation(err))
	}
	return nil
}

func badRequest(c *fiber.Ctx, err error) error {
	return apiError(c, fiber.StatusBadRequest, "bad_request", err.Error())
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

const dateOnly = "2006-01-02"

// parseDateParam accepts RFC3339 or YYYY-MM-DD. A date-only end bound covers
// the whole day.
func parseDateParam(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation(dateOnly, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: use RFC3339 or YYYY-MM-DD", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
