package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated user.
func (ac *APIController) HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	account, err := ac.users.GetByID(ctx, userCtx.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	planID := account.PlanID()
	if !account.HasActiveSubscription() || planID == "" {
		planID = plans.DefaultPlanID
	}
	var costs interface{}
	if plan, err := ac.catalog.Get(planID); err == nil {
		costs = plan.CreditCosts
	}

	var subscription interface{}
	if ac.billing != nil {
		sub, err := ac.billing.Subscription(ctx, account.ID)
		switch {
		case err == nil:
			subscription = sub
		case errors.Is(err, billing.ErrSubscriptionNotFound):
		default:
			return handleServiceError(c, err)
		}
	}

	return c.JSON(fiber.Map{
		"id":                   account.ID,
		"email":                account.Email,
		"credit_balance":       account.CreditBalance,
		"subscription_status":  account.SubscriptionStatus,
		"current_plan_id":      account.CurrentPlanID,
		"billing_cycle":        account.BillingCycle,
		"next_billing_date":    formatTimePtr(account.NextBillingDate),
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
		"credit_costs":         costs,
		"subscription":         subscription,
	})
}
