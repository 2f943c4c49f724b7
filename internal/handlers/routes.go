package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/middleware"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/realtime"
)

type Routes struct {
	JWTSecret   string
	Webhook     *WebhookHandler
	Escrow      *EscrowHandler
	Consultants *ConsultantHandler
	Matches     *MatchHandler
	Hub         *realtime.Hub
}

func (r Routes) Mount(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true})
	})

	// public, authenticated by signature
	app.Post("/webhooks/processor", r.Webhook.HandleCallback)

	auth := []fiber.Handler{middleware.JWT(r.JWTSecret), middleware.AttachJWTLocals()}
	api := app.Group("/api", auth...)

	client := middleware.RequireRoles(middleware.RoleClient)
	admin := middleware.RequireRoles(middleware.RoleAdmin)

	holds := api.Group("/escrow/holds")
	holds.Post("/", client, r.Escrow.CreateHold)
	holds.Get("/:id", middleware.RequireRoles(middleware.RoleClient, middleware.RoleConsultant, middleware.RoleAdmin), r.Escrow.GetHold)
	holds.Post("/:id/upfront-release", client, r.Escrow.UpfrontRelease)
	holds.Post("/:id/approve", client, r.Escrow.Approve)
	holds.Post("/:id/cancel", middleware.RequireRoles(middleware.RoleClient, middleware.RoleAdmin), r.Escrow.Cancel)
	holds.Post("/:id/refund", admin, r.Escrow.Refund)

	api.Post("/admin/holds/:id/retry-settlement", admin, r.Escrow.RetrySettlement)

	api.Post("/consultants", admin, r.Consultants.Register)
	api.Get("/consultants/:id", r.Consultants.Get)
	api.Patch("/consultants/:id", admin, r.Consultants.Update)
	api.Get("/consultants/:id/ledger", middleware.RequireRoles(middleware.RoleConsultant, middleware.RoleAdmin), r.Consultants.Ledger)
	api.Post("/consultants/:id/onboarding", admin, r.Consultants.Onboarding)
	api.Post("/consultants/:id/sync", admin, r.Consultants.Sync)

	api.Post("/matches", client, r.Matches.FindMatches)

	if r.Hub != nil {
		app.Get("/ws/payments", append(auth,
			middleware.RequireRoles(middleware.RoleConsultant),
			realtime.Upgrade(),
			realtime.PaymentSocket(r.Hub),
		)...)
	}
}
