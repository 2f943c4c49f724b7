package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

const (
	localClaims = "claims"
	// LocalUserID and LocalRole are also read by the websocket handler.
	LocalUserID = "userId"
	LocalRole   = "role"
)

func claimsFrom(c *fiber.Ctx) (*utils.Claims, bool) {
	claims, ok := c.Locals(localClaims).(*utils.Claims)
	return claims, ok && claims != nil
}

// AttachJWTLocals copies the verified identity into locals. Tokens without a user id or
// with a role this service does not know are refused.
func AttachJWTLocals() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := claimsFrom(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		uid := strings.TrimSpace(claims.UserID)
		if uid == "" {
			return fiber.ErrUnauthorized
		}
		role, known := utils.NormalizeRole(claims.Role)
		if !known {
			return fiber.NewError(fiber.StatusForbidden, "forbidden: unknown role")
		}
		c.Locals(LocalUserID, uid)
		c.Locals(LocalRole, role)
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(LocalUserID).(string)
	return uid
}

func Role(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}

// IsSelf reports whether the caller is the consultant with account id id.
func IsSelf(c *fiber.Ctx, id uuid.UUID) bool {
	return Role(c) == RoleConsultant && UserID(c) == id.String()
}
