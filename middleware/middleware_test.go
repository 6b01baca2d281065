package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret", zerolog.Nop(), "/health"))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	secured := app.Group("/", UserContextMiddleware(zerolog.Nop()))
	secured.Get("/whoami", func(c *fiber.Ctx) error {
		a := ActorFromCtx(c)
		return c.JSON(fiber.Map{"user": a.UserID, "roles": a.PlatformRoles, "staff": a.IsStaff()})
	})
	secured.Get("/admin", RequireStaff(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func TestGatewayAuth(t *testing.T) {
	app := newApp()

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health skips auth", "/health", "", fiber.StatusOK},
		{"missing token", "/whoami", "", fiber.StatusUnauthorized},
		{"wrong token", "/whoami", "Bearer nope", fiber.StatusUnauthorized},
		{"raw token", "/health", "s3cret", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestUserContext(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("X-User-ID", "alpha-lead")
	req.Header.Set("X-User-Roles", "player, moderator ,")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("X-User-ID", "alpha-lead")
	req.Header.Set("X-User-Roles", "player")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req.Header.Set("X-User-Roles", "admin")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
