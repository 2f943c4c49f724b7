package middleware

import (
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

const (
	RoleClient     = utils.RoleClient
	RoleConsultant = utils.RoleConsultant
	RoleAdmin      = utils.RoleAdmin
)

// RequireRoles runs after AttachJWTLocals.
func RequireRoles(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := Role(c)
		if role == "" {
			return fiber.ErrUnauthorized
		}
		if !slices.Contains(allowed, role) {
			return fiber.NewError(fiber.StatusForbidden, "forbidden: insufficient role")
		}
		return c.Next()
	}
}
