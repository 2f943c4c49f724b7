package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/middleware"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/connect"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/fee"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

type ConsultantHandler struct {
	Store    store.Store
	Accounts *connect.Synchronizer
}

func NewConsultantHandler(st store.Store, sync *connect.Synchronizer) *ConsultantHandler {
	return &ConsultantHandler{Store: st, Accounts: sync}
}

type RegisterConsultantRequest struct {
	Expertise          []string `json:"expertise" validate:"required,min=1,dive,required,max=64"`
	Industries         []string `json:"industries" validate:"dive,required,max=64"`
	HourlyRate         int64    `json:"hourly_rate" validate:"gte=0"`
	WeeklyAvailability int      `json:"weekly_availability" validate:"gte=0,lte=168"`
	ExperienceBracket  string   `json:"experience_bracket" validate:"required,oneof=1-3 3-5 5-10 10+"`
	DefaultFeeRate     int      `json:"default_fee_rate" validate:"omitempty,gte=0,lte=100"`
}

type UpdateConsultantRequest struct {
	ApplicationStatus  *string  `json:"application_status" validate:"omitempty,oneof=pending approved rejected"`
	AvailabilityStatus *string  `json:"availability_status" validate:"omitempty,oneof=available busy unavailable"`
	IsActive           *bool    `json:"is_active"`
	RatingAverage      *float64 `json:"rating_average" validate:"omitempty,gte=0,lte=5"`
	RatingCount        *int     `json:"rating_count" validate:"omitempty,gte=0"`
	CompletedProjects  *int     `json:"completed_projects" validate:"omitempty,gte=0"`
	HourlyRate         *int64   `json:"hourly_rate" validate:"omitempty,gte=0"`
	WeeklyAvailability *int     `json:"weekly_availability" validate:"omitempty,gte=0,lte=168"`
}

type OnboardingRequest struct {
	AccountID string `json:"account_id" validate:"required,startswith=acct_,max=64"`
}

func (h *ConsultantHandler) Register(c *fiber.Ctx) error {
	var req RegisterConsultantRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}

	acct := models.ConsultantAccount{
		ConnectStatus:      models.ConnectNotStarted,
		ApplicationStatus:  models.ApplicationPending,
		IsActive:           true,
		AvailabilityStatus: models.AvailabilityAvailable,
		AppliedAt:          time.Now().UTC(),
		HourlyRate:         req.HourlyRate,
		WeeklyAvailability: req.WeeklyAvailability,
		ExperienceBracket:  models.ExperienceBracket(req.ExperienceBracket),
		Expertise:          trimAll(req.Expertise),
		Industries:         trimAll(req.Industries),
	}
	acct.DefaultFeeRate = fee.MaxRate
	if req.DefaultFeeRate > 0 {
		acct.DefaultFeeRate = fee.ClampDisplayRate(req.DefaultFeeRate)
	}
	if err := h.Store.CreateConsultant(c.UserContext(), &acct); err != nil {
		return respond(c, nil, false, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": acct})
}

func (h *ConsultantHandler) Get(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid consultant id")
	}
	acct, err := h.Store.GetConsultant(c.UserContext(), id)
	if err != nil {
		return respond(c, nil, false, err)
	}
	// earnings are private to the consultant and admins
	if middleware.Role(c) != middleware.RoleAdmin && !middleware.IsSelf(c, acct.ID) {
		acct.Earnings = models.Earnings{}
	}
	return ok(c, acct)
}

func (h *ConsultantHandler) Update(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid consultant id")
	}
	var req UpdateConsultantRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}

	u := models.ProfileUpdate{
		IsActive:           req.IsActive,
		RatingAverage:      req.RatingAverage,
		RatingCount:        req.RatingCount,
		CompletedProjects:  req.CompletedProjects,
		HourlyRate:         req.HourlyRate,
		WeeklyAvailability: req.WeeklyAvailability,
	}
	if req.ApplicationStatus != nil {
		st := models.ApplicationStatus(*req.ApplicationStatus)
		u.ApplicationStatus = &st
	}
	if req.AvailabilityStatus != nil {
		st := models.AvailabilityStatus(*req.AvailabilityStatus)
		u.AvailabilityStatus = &st
	}
	acct, err := h.Store.UpdateProfile(c.UserContext(), id, u)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return ok(c, acct)
}

func (h *ConsultantHandler) Onboarding(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid consultant id")
	}
	var req OnboardingRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}
	acct, err := h.Accounts.StartOnboarding(c.UserContext(), id, req.AccountID)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return ok(c, acct)
}

func (h *ConsultantHandler) Sync(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid consultant id")
	}
	acct, err := h.Accounts.SyncAccount(c.UserContext(), id)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return ok(c, acct)
}

func (h *ConsultantHandler) Ledger(c *fiber.Ctx) error {
	id, okID := paramUUID(c, "id")
	if !okID {
		return fail(c, fiber.StatusBadRequest, "Invalid consultant id")
	}
	if middleware.Role(c) == middleware.RoleConsultant && !middleware.IsSelf(c, id) {
		return fail(c, fiber.StatusForbidden, "forbidden")
	}
	entries, err := h.Store.ListLedger(c.UserContext(), id)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return ok(c, entries)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
