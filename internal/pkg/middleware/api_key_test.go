package middleware

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreditForge/app/models"
	"github.com/ManuelReschke/CreditForge/app/repository"
	"github.com/ManuelReschke/CreditForge/internal/pkg/usercontext"
)

func newAPIKeyApp(t *testing.T) (*fiber.App, *repository.MemoryUserRepository, *models.User, string) {
	t.Helper()
	users := repository.NewMemoryUserRepository()
	user, key, err := models.CreateUser("Owner@Example.com")
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), user))

	app := fiber.New()
	app.Get("/me", APIKeyAuthMiddleware(users), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"id":     usercontext.GetUserID(c),
			"method": c.Locals(usercontext.KeyAuthMethod),
		})
	})
	return app, users, user, key
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	app, _, _, key := newAPIKeyApp(t)
	prefix, _, err := models.SplitAPIKey(key)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"x-api-key", "X-API-Key", key, fiber.StatusOK},
		{"bearer", "Authorization", "Bearer " + key, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"malformed", "X-API-Key", "not-a-key", fiber.StatusUnauthorized},
		{"unknown prefix", "X-API-Key", "cf_000000000000.secret", fiber.StatusUnauthorized},
		{"wrong secret", "X-API-Key", models.APIKeyPrefix + prefix + ".wrong", fiber.StatusUnauthorized},
		{"basic auth is not a key", "Authorization", "Basic YWRtaW46YWRtaW4=", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddlewareSetsContext(t *testing.T) {
	app, users, user, key := newAPIKeyApp(t)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-API-Key", key)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, user.ID, body["id"])
	assert.Equal(t, usercontext.AuthAPIKey, body["method"])

	stored, err := users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.APIKeyLastUsedAt)
}
