// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"squad-ladder/services"
)

const (
	localUserID    = "user_id"
	localUserRoles = "user_roles"
)

// UserContextMiddleware extracts the identity and platform roles the gateway
// forwards. Requests without X-User-ID are rejected.
func UserContextMiddleware(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn().Str("path", c.Path()).Msg("❌ [USER_CTX] X-User-ID missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID; request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserRoles, roles)
		log.Debug().Str("user_id", userID).Strs("roles", roles).Str("path", c.Path()).Msg("👤 [USER_CTX]")
		return c.Next()
	}
}

// ActorFromCtx returns the caller attached by UserContextMiddleware.
func ActorFromCtx(c *fiber.Ctx) services.Actor {
	userID, _ := c.Locals(localUserID).(string)
	roles, _ := c.Locals(localUserRoles).([]string)
	return services.Actor{UserID: userID, PlatformRoles: roles}
}

// RequireStaff stops non-staff callers before admin handlers run.
func RequireStaff() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ActorFromCtx(c).IsStaff() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "staff role required",
				"code":  services.CodeInsufficientRole,
				"kind":  services.KindForbidden,
			})
		}
		return c.Next()
	}
}
