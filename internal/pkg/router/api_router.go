package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/CreditForge/app/controllers"
	"github.com/ManuelReschke/CreditForge/app/repository"
	apiv1 "github.com/ManuelReschke/CreditForge/internal/api/v1"
	"github.com/ManuelReschke/CreditForge/internal/pkg/middleware"
)

// ApiOptions configures the API routes.
type ApiOptions struct {
	AdminUser       string
	AdminPassword   string
	RateLimitMax    int
	RateLimitWindow time.Duration
	LimiterStorage  fiber.Storage
}

type ApiRouter struct {
	controller *controllers.APIController
	users      repository.UserRepository
	opts       ApiOptions
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(h.opts.RateLimitMax, h.opts.RateLimitWindow, h.opts.LimiterStorage))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(h.controller)
	apiv1.RegisterHandlers(v1, apiServer, apiv1.Middlewares{
		APIKey: middleware.APIKeyAuthMiddleware(h.users),
		Admin: []fiber.Handler{
			middleware.RequireAdmin(h.opts.AdminUser, h.opts.AdminPassword),
			middleware.MarkAdmin,
		},
	})
}

func NewApiRouter(controller *controllers.APIController, users repository.UserRepository, opts ApiOptions) *ApiRouter {
	if opts.RateLimitMax <= 0 {
		opts.RateLimitMax = 120
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	return &ApiRouter{controller: controller, users: users, opts: opts}
}
