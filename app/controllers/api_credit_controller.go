package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

type purchaseRequest struct {
	Amount          int64  `json:"amount" validate:"required,gt=0,lte=1000000"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

type useRequest struct {
	Service   string `json:"service" validate:"required,oneof=copy graphics video audio"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	RequestID string `json:"requestId" validate:"required,max=128"`
}

// HandleBalance returns the balance of the authenticated account.
func (ac *APIController) HandleBalance(c *fiber.Ctx) error {
	ctx, cancel := ac.requestContext(c)
	defer cancel()

	balance, err := ac.ledger.Balance(ctx, usercontext.GetUserID(c))
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(balance)
}

// HandleHistory returns merged usage and purchase records, newest first.
func (ac *APIController) HandleHistory(c *fiber.Ctx) error {
	start, err := parseDateParam(c.Query("startDate"), false)
	if err != nil {
		return badRequest(c, err)
	}
	end, err := parseDateParam(c.Query("endDate"), true)
	if err != nil {
		return badRequest(c, err)
	}
	if start != nil && end != nil && end.Before(*start) {
		return badRequest(c, errors.New("endDate is before startDate"))
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	entries, err := ac.ledger.GetHistory(ctx, usercontext.GetUserID(c), start, end)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{"transactions": entries, "count": len(entries)})
}

// HandlePurchase charges the payment method and credits the account.
func (ac *APIController) HandlePurchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := bindBody(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	rec, err := ac.ledger.PurchaseCredits(ctx, ledger.PurchaseRequest{
		UserID:          usercontext.GetUserID(c),
		Amount:          req.Amount,
		PaymentMethodID: req.PaymentMethodID,
		IdempotencyKey:  strings.TrimSpace(c.Get("Idempotency-Key")),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	balance, err := ac.ledger.GetBalance(ctx, rec.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"purchase": rec,
		"balance":  balance,
	})
}

// HandleUse debits credits for a client-side tracked request.
func (ac *APIController) HandleUse(c *fiber.Ctx) error {
	var req useRequest
	if err := bindBody(c, &req); err != nil {
		return badRequest(c, err)
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	userID := usercontext.GetUserID(c)
	rec, err := ac.ledger.Use(ctx, userID, req.Service, req.Amount, req.RequestID)
	if err != nil {
		return handleServiceError(c, err)
	}
	balance, err := ac.ledger.GetBalance(ctx, userID)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"usage":   rec,
		"balance": balance,
	})
}
