package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

const TokenCookie = "jm_token"

// JWT accepts the session cookie or an Authorization bearer token. Browser sockets can only
// send the cookie; operators and server-side clients use the header.
func JWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearer(c)
		if raw == "" {
			return fiber.ErrUnauthorized
		}
		claims, err := utils.ParseJWT(secret, raw)
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals(localClaims, claims)
		return c.Next()
	}
}

func bearer(c *fiber.Ctx) string {
	if v := c.Cookies(TokenCookie); v != "" {
		return v
	}
	scheme, rest, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
