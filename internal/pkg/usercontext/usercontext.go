package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext is the authenticated account of a request.
type UserContext struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	PlanID     string `json:"plan_id"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
}

// Set stores the context and the legacy user ID local.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
	c.Locals(KeyUserID, ctx.UserID)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// IsAdmin checks if the request passed admin authentication
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current account ID, or an empty string
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}
