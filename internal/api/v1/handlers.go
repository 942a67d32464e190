package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/ManuelReschke/CreditForge/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	ctl *controllers.APIController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ctl *controllers.APIController) *APIServer {
	return &APIServer{ctl: ctl}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	return s.ctl.HandlePlans(c)
}

// PostStripeWebhook is unauthenticated; the Stripe-Signature header is
// verified by the reconciler.
func (s *APIServer) PostStripeWebhook(c *fiber.Ctx) error {
	return s.ctl.HandleStripeWebhook(c)
}

func (s *APIServer) GetCreditBalance(c *fiber.Ctx) error {
	return s.ctl.HandleBalance(c)
}

func (s *APIServer) GetCreditHistory(c *fiber.Ctx) error {
	return s.ctl.HandleHistory(c)
}

func (s *APIServer) PostCreditPurchase(c *fiber.Ctx) error {
	return s.ctl.HandlePurchase(c)
}

func (s *APIServer) PostCreditUse(c *fiber.Ctx) error {
	return s.ctl.HandleUse(c)
}

// PostGenerate queues a job; the controller reads service from route params.
func (s *APIServer) PostGenerate(c *fiber.Ctx, service string) error {
	if service == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "service missing"})
	}
	return s.ctl.HandleGenerate(c)
}

func (s *APIServer) GetJob(c *fiber.Ctx, requestID string) error {
	if requestID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "requestId missing"})
	}
	return s.ctl.HandleJob(c)
}

func (s *APIServer) PostSubscriptionCheckout(c *fiber.Ctx) error {
	return s.ctl.HandleCheckout(c)
}

func (s *APIServer) PostSubscriptionCancel(c *fiber.Ctx) error {
	return s.ctl.HandleCancelSubscription(c)
}

// GetAccount returns account information for the authenticated user (API key).
// Security is enforced via API key middleware attached in the router.
func (s *APIServer) GetAccount(c *fiber.Ctx) error {
	return s.ctl.HandleGetUserAccount(c)
}

func (s *APIServer) GetAdminAccounts(c *fiber.Ctx) error {
	return s.ctl.HandleAdminAccounts(c)
}

func (s *APIServer) PostAdminAccount(c *fiber.Ctx) error {
	return s.ctl.HandleAdminCreateAccount(c)
}

func (s *APIServer) GetAdminQueues(c *fiber.Ctx) error {
	return s.ctl.HandleAdminQueues(c)
}

var _ ServerInterface = (*APIServer)(nil)
