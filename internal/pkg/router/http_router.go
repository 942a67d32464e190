package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/CreditForge/internal/pkg/middleware"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
)

// HttpOptions configures the non-API routes.
type HttpOptions struct {
	AdminUser     string
	AdminPassword string
	// OpenAPIFile is served at /docs/api/v1 when it exists.
	OpenAPIFile string
	// AccessLog enables the request logger.
	AccessLog bool
}

type HttpRouter struct {
	opts HttpOptions
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// recovery, error reporting and logging
	app.Use(recover.New(), monitoring.Middleware())
	if h.opts.AccessLog {
		app.Use(logger.New())
	}

	// fiber metrics
	app.Get("/metrics", middleware.RequireAdmin(h.opts.AdminUser, h.opts.AdminPassword), monitor.New())

	// SWAGGER / OPENAPI
	if h.opts.OpenAPIFile != "" {
		if _, err := os.Stat(h.opts.OpenAPIFile); err == nil {
			app.Use(swagger.New(swagger.Config{
				BasePath: "/docs/api/",
				FilePath: h.opts.OpenAPIFile,
				Path:     "v1",
			}))
		} else {
			log.Warnf("[Router] OpenAPI file %s not found, docs disabled", h.opts.OpenAPIFile)
		}
	}
}

func NewHttpRouter(opts HttpOptions) *HttpRouter {
	return &HttpRouter{opts: opts}
}
