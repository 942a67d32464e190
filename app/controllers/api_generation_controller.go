package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreditForge/internal/pkg/generation"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

// HandleGenerate validates a generation request and queues it. Credits are
// debited when the worker reports success.
func (ac *APIController) HandleGenerate(c *fiber.Ctx) error {
	service := c.Params("service")
	payload, err := generation.ParseRequest(service, c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	ctx, cancel := ac.requestContext(c)
	defer cancel()

	rec, err := ac.dispatcher.Dispatch(ctx, usercontext.GetUserID(c), service, payload)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"requestId": rec.RequestID,
		"service":   rec.Service,
		"cost":      rec.Cost,
		"status":    rec.Status,
	})
}

// HandleJob returns a job record. Jobs of other accounts are reported as
// missing.
func (ac *APIController) HandleJob(c *fiber.Ctx) error {
	ctx, cancel := ac.requestContext(c)
	defer cancel()

	rec, err := ac.dispatcher.Job(ctx, c.Params("requestId"))
	if err != nil {
		return handleServiceError(c, err)
	}
	if rec.UserID != usercontext.GetUserID(c) {
		return handleServiceError(c, jobqueue.ErrJobNotFound)
	}
	return c.JSON(rec)
}
