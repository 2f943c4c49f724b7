package handlers

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/webhook"
)

var validate = validator.New()

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "message": msg})
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"success": true, "data": data})
}

// parseBody decodes and validates req. A body that does not parse is 400, one that fails
// validation is 422.
func parseBody(c *fiber.Ctx, req any) *fiber.Error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrValidation):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, webhook.ErrSignatureInvalid), errors.Is(err, webhook.ErrMalformed):
		return fiber.StatusBadRequest
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, escrow.ErrIllegalTransition),
		errors.Is(err, connect.ErrAlreadyOnboarded),
		errors.Is(err, connect.ErrAccountInUse),
		errors.Is(err, connect.ErrNotOnboarded),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, escrow.ErrSettlementPending):
		return fiber.StatusAccepted
	case errors.Is(err, escrow.ErrHoldCreationFailed),
		errors.Is(err, escrow.ErrCaptureFailed),
		errors.Is(err, escrow.ErrTransferFailed),
		errors.Is(err, escrow.ErrRefundFailed),
		errors.Is(err, escrow.ErrCancelFailed):
		return fiber.StatusPaymentRequired
	case errors.Is(err, locker.ErrLockTimeout):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respond writes data on success. On error the record, when there is one, travels with the
// message so callers see a flagged or pending settlement.
func respond(c *fiber.Ctx, data any, hasData bool, err error) error {
	if err == nil {
		return ok(c, data)
	}
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		slog.Default().ErrorContext(c.UserContext(), "request failed",
			"module", "handlers",
			"operation", c.Route().Path,
			"outcome", "failure",
			"error", err,
		)
		return fail(c, status, "Internal server error")
	}
	body := fiber.Map{"success": status == fiber.StatusAccepted, "message": err.Error()}
	if hasData {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}
