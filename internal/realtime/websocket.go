package realtime

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Upgrade rejects plain HTTP requests and carries the authenticated user id into the
// websocket connection. It runs after the JWT middleware.
func Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}
}

// PaymentSocket streams payment updates to the connected consultant.
func PaymentSocket(hub *Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		uid, _ := c.Locals("userId").(string)
		userID, err := uuid.Parse(uid)
		if err != nil {
			_ = c.Close()
			return
		}

		client := NewClient(userID)
		hub.RegisterClient(client)
		defer hub.UnregisterClient(client)

		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		// reads only keep the connection alive and detect close
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				slog.Default().Debug("payment socket closed", "module", "realtime", "user_id", userID, "error", err)
				return
			}
		}
	})
}
