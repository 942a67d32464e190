package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

// RequireAdmin guards operator routes with HTTP basic auth. An empty password
// disables the routes entirely.
func RequireAdmin(user, password string) fiber.Handler {
	if password == "" {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin access is not configured",
			})
		}
	}
	return basicauth.New(basicauth.Config{
		Authorizer: func(u, p string) bool {
			return subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Restricted"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
		ContextUsername: "admin_user",
	})
}

// MarkAdmin flags the request context after RequireAdmin passed.
func MarkAdmin(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)
	ctx.IsAdmin = true
	usercontext.Set(c, ctx)
	c.Locals(usercontext.KeyAuthMethod, usercontext.AuthAdmin)
	return c.Next()
}
