package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/middleware"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/escrow"
)

type EscrowHandler struct {
	Orch *escrow.Orchestrator
}

func NewEscrowHandler(orch *escrow.Orchestrator) *EscrowHandler {
	return &EscrowHandler{Orch: orch}
}

type CreateHoldRequest struct {
	ConsultantID    string            `json:"consultant_id" validate:"required,uuid"`
	MilestoneID     string            `json:"milestone_id" validate:"required,max=64"`
	Amount          int64             `json:"amount" validate:"required,gt=0"`
	Currency        string            `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentMethodID string            `json:"payment_method_id"`
	CustomerID      string            `json:"customer_id"`
	Metadata        map[string]string `json:"metadata"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

type RefundRequest struct {
	// zero refunds whatever is still refundable
	Amount int64  `json:"amount" validate:"gte=0"`
	Reason string `json:"reason" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

func (h *EscrowHandler) CreateHold(c *fiber.Ctx) error {
	var req CreateHoldRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}

	in := escrow.CreateHoldInput{
		ConsultantID:    uuid.MustParse(req.ConsultantID),
		MilestoneID:     req.MilestoneID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentMethodID: req.PaymentMethodID,
		CustomerID:      req.CustomerID,
		Metadata:        req.Metadata,
	}
	if uid := middleware.UserID(c); uid != "" {
		if in.Metadata == nil {
			in.Metadata = map[string]string{}
		}
		in.Metadata["client_id"] = uid
	}

	rec, err := h.Orch.CreateHold(c.UserContext(), in)
	if err != nil {
		return respond(c, rec, rec.ID != uuid.Nil, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": rec})
}

func (h *EscrowHandler) GetHold(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	rec, err := h.Orch.GetHold(c.UserContext(), id)
	if err != nil {
		return respond(c, nil, false, err)
	}
	// consultants only see their own milestones
	if middleware.Role(c) == middleware.RoleConsultant && !middleware.IsSelf(c, rec.ConsultantID) {
		return fail(c, fiber.StatusNotFound, escrow.ErrNotFound.Error())
	}
	return ok(c, rec)
}

func (h *EscrowHandler) UpfrontRelease(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	rec, err := h.Orch.AuthorizeUpfrontRelease(c.UserContext(), id)
	return respond(c, rec, rec.ID != uuid.Nil, err)
}

func (h *EscrowHandler) Approve(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	rec, err := h.Orch.ApproveMilestoneAndCapture(c.UserContext(), id)
	return respond(c, rec, rec.ID != uuid.Nil, err)
}

func (h *EscrowHandler) Cancel(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return fail(c, err.Code, err.Message)
		}
	}
	rec, err := h.Orch.CancelHold(c.UserContext(), id, req.Reason)
	return respond(c, rec, rec.ID != uuid.Nil, err)
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	key := c.Get("Idempotency-Key")
	if key == "" {
		return fail(c, fiber.StatusBadRequest, "Idempotency-Key header is required")
	}
	var req RefundRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}

	amount := req.Amount
	if amount == 0 {
		cur, err := h.Orch.GetHold(c.UserContext(), id)
		if err != nil {
			return respond(c, nil, false, err)
		}
		amount = cur.Amount - cur.CumulativeRefunded
	}
	rec, err := h.Orch.Refund(c.UserContext(), escrow.RefundInput{HoldID: id, Amount: amount, Reason: req.Reason, Key: key})
	return respond(c, rec, rec.ID != uuid.Nil, err)
}

func (h *EscrowHandler) RetrySettlement(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid hold id")
	}
	rec, err := h.Orch.RetrySettlement(c.UserContext(), id)
	return respond(c, rec, rec.ID != uuid.Nil, err)
}
