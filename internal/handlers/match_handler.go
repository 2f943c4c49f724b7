package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/matching"
)

type MatchHandler struct {
	Engine *matching.Engine
}

func NewMatchHandler(e *matching.Engine) *MatchHandler {
	return &MatchHandler{Engine: e}
}

type FindMatchesRequest struct {
	Expertise     []string `json:"expertise" validate:"dive,required,max=64"`
	Industry      string   `json:"industry" validate:"max=64"`
	HoursPerWeek  int      `json:"hours_per_week" validate:"gte=0,lte=168"`
	MaxHourlyRate int64    `json:"max_hourly_rate" validate:"gte=0"`
	MinExperience string   `json:"min_experience" validate:"omitempty,oneof=1-3 3-5 5-10 10+"`
	Limit         int      `json:"limit" validate:"gte=0,lte=100"`
}

func (h *MatchHandler) FindMatches(c *fiber.Ctx) error {
	var req FindMatchesRequest
	if err := parseBody(c, &req); err != nil {
		return fail(c, err.Code, err.Message)
	}
	matches, err := h.Engine.FindMatches(c.UserContext(), matching.Requirement{
		Expertise:     req.Expertise,
		Industry:      req.Industry,
		HoursPerWeek:  req.HoursPerWeek,
		MaxHourlyRate: req.MaxHourlyRate,
		MinExperience: models.ExperienceBracket(req.MinExperience),
	}, req.Limit)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return ok(c, matches)
}
