package middleware

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func TestRequireAdmin(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", RequireAdmin("admin", "s3cret"), MarkAdmin, func(c *fiber.Ctx) error {
		if !usercontext.IsAdmin(c) {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendString(c.Locals(usercontext.KeyAuthMethod).(string))
	})

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"valid", basicHeader("admin", "s3cret"), fiber.StatusOK},
		{"wrong password", basicHeader("admin", "nope"), fiber.StatusUnauthorized},
		{"wrong user", basicHeader("root", "s3cret"), fiber.StatusUnauthorized},
		{"missing", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusUnauthorized {
				assert.Contains(t, resp.Header.Get(fiber.HeaderWWWAuthenticate), "Basic")
			}
		})
	}
}

func TestRequireAdminWithoutPassword(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", RequireAdmin("admin", ""), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", basicHeader("admin", ""))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
