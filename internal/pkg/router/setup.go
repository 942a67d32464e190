package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs a group of routes and middlewares on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter installs the HttpRouter first so the global middlewares
// (recover, logger, error reporting) wrap the API routes.
func InstallRouter(app *fiber.App, http *HttpRouter, api *ApiRouter) {
	setup(app, http, api)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
