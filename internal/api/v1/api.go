// Package apiv1 binds the public v1 HTTP surface described in
// public/docs/v1/openapi.yml.
package apiv1

import "github.com/gofiber/fiber/v2"

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /plans)
	GetPlans(c *fiber.Ctx) error
	// (POST /webhooks/stripe)
	PostStripeWebhook(c *fiber.Ctx) error
	// (GET /credits/balance)
	GetCreditBalance(c *fiber.Ctx) error
	// (GET /credits/history)
	GetCreditHistory(c *fiber.Ctx) error
	// (POST /credits/purchase)
	PostCreditPurchase(c *fiber.Ctx) error
	// (POST /credits/use)
	PostCreditUse(c *fiber.Ctx) error
	// (POST /generate/{service})
	PostGenerate(c *fiber.Ctx, service string) error
	// (GET /jobs/{requestId})
	GetJob(c *fiber.Ctx, requestID string) error
	// (POST /subscription/checkout)
	PostSubscriptionCheckout(c *fiber.Ctx) error
	// (POST /subscription/cancel)
	PostSubscriptionCancel(c *fiber.Ctx) error
	// (GET /account)
	GetAccount(c *fiber.Ctx) error
	// (GET /admin/accounts)
	GetAdminAccounts(c *fiber.Ctx) error
	// (POST /admin/accounts)
	PostAdminAccount(c *fiber.Ctx) error
	// (GET /admin/queues)
	GetAdminQueues(c *fiber.Ctx) error
}

// Middlewares guards the authenticated route groups.
type Middlewares struct {
	APIKey fiber.Handler
	Admin  []fiber.Handler
}

// RegisterHandlers mounts every operation on router.
func RegisterHandlers(router fiber.Router, si ServerInterface, mw Middlewares) {
	router.Get("/ping", si.GetPing)
	router.Get("/plans", si.GetPlans)
	router.Post("/webhooks/stripe", si.PostStripeWebhook)

	auth := mw.APIKey
	router.Get("/credits/balance", auth, si.GetCreditBalance)
	router.Get("/credits/history", auth, si.GetCreditHistory)
	router.Post("/credits/purchase", auth, si.PostCreditPurchase)
	router.Post("/credits/use", auth, si.PostCreditUse)
	router.Post("/generate/:service", auth, func(c *fiber.Ctx) error {
		return si.PostGenerate(c, c.Params("service"))
	})
	router.Get("/jobs/:requestId", auth, func(c *fiber.Ctx) error {
		return si.GetJob(c, c.Params("requestId"))
	})
	router.Post("/subscription/checkout", auth, si.PostSubscriptionCheckout)
	router.Post("/subscription/cancel", auth, si.PostSubscriptionCancel)
	router.Get("/account", auth, si.GetAccount)

	admin := router.Group("/admin", mw.Admin...)
	admin.Get("/accounts", si.GetAdminAccounts)
	admin.Post("/accounts", si.PostAdminAccount)
	admin.Get("/queues", si.GetAdminQueues)
}
