package controllers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/app/models"
)

const maxAdminPageSize = 100

type createAccountRequest struct {
	Email          string `json:"email" validate:"required,email,max=200"`
	InitialCredits int64  `json:"initialCredits" validate:"gte=0"`
}

// HandleAdminCreateAccount creates an account and returns its API key. The
// key is shown exactly once.
func (ac *APIController) HandleAdminCreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := bindBody(c, &req); err != nil {
		return badRequest(c, err)
	}

	user, apiKey, err := models.CreateUser(req.Email)
	if err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	if err := ac.users.Create(ctx, user); err != nil {
		return handleServiceError(c, err)
	}

	if req.InitialCredits > 0 {
		requestID := fmt.Sprintf("admin-grant:%s", user.ID)
		if err := ac.ledger.Credit(ctx, user.ID, req.InitialCredits, "initial grant", requestID); err != nil {
			return handleServiceError(c, err)
		}
		user.CreditBalance = req.InitialCredits
	}

	log.Infof("[Admin] Created account %s (%s)", user.ID, user.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":             user.ID,
		"email":          user.Email,
		"credit_balance": user.CreditBalance,
		"api_key":        apiKey,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleAdminAccounts lists accounts, newest first.
func (ac *APIController) HandleAdminAccounts(c *fiber.Ctx) error {
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxAdminPageSize {
		limit = maxAdminPageSize
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	users, err := ac.users.List(ctx, offset, limit)
	if err != nil {
		return handleServiceError(c, err)
	}
	total, err := ac.users.Count(ctx)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"accounts": users, "total": total, "offset": offset, "limit": limit})
}

// HandleAdminQueues reports request and results queue backlogs.
func (ac *APIController) HandleAdminQueues(c *fiber.Ctx) error {
	if ac.queues == nil {
		return apiError(c, fiber.StatusServiceUnavailable, "not_configured", "queue manager not running")
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	depths, supported, err := ac.queues.Depths(ctx)
	if err != nil {
		return handleServiceError(c, err)
	}
	outcomes, err := ac.queues.Outcomes(ctx)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"running":   ac.queues.IsRunning(),
		"supported": supported,
		"queues":    depths,
		"outcomes":  outcomes,
	})
}
