// Package matching ranks eligible consultants against a project requirement.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

const (
	weightExpertise    = 0.40
	weightIndustry     = 0.20
	weightAvailability = 0.15
	weightRating       = 0.10
	weightRate         = 0.10
	weightExperience   = 0.05

	DefaultLimit = 10
	MaxLimit     = 100
)

// Requirement is what a project asks for. Zero-valued criteria are treated as met.
type Requirement struct {
	Expertise     []string                 `json:"expertise"`
	Industry      string                   `json:"industry"`
	HoursPerWeek  int                      `json:"hours_per_week"`
	MaxHourlyRate int64                    `json:"max_hourly_rate"`
	MinExperience models.ExperienceBracket `json:"min_experience"`
}

type Match struct {
	ConsultantID      uuid.UUID `json:"consultant_id"`
	Score             float64   `json:"score"`
	RatingAverage     float64   `json:"rating_average"`
	CompletedProjects int       `json:"completed_projects"`
	AppliedAt         time.Time `json:"applied_at"`
}

// Pool yields the eligible candidates; the store's filter already applies the
// approved/active/available/enabled conditions.
type Pool interface {
	ListEligibleConsultants(ctx context.Context) ([]models.ConsultantAccount, error)
}

type Engine struct {
	pool Pool
}

func NewEngine(pool Pool) *Engine {
	return &Engine{pool: pool}
}

func (e *Engine) FindMatches(ctx context.Context, req Requirement, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	candidates, err := e.pool.ListEligibleConsultants(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		// the pool may come from a store without the filter
		if !c.Matchable() {
			continue
		}
		matches = append(matches, Match{
			ConsultantID:      c.ID,
			Score:             Score(c, req),
			RatingAverage:     c.RatingAverage,
			CompletedProjects: c.CompletedProjects,
			AppliedAt:         c.AppliedAt,
		})
	}
	Rank(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	slog.Default().InfoContext(ctx, "matches computed",
		"module", "matching",
		"operation", "find_matches",
		"outcome", "success",
		"candidates", len(candidates),
		"returned", len(matches),
	)
	return matches, nil
}

// Score is the weighted fit of c for req on a 0-100 scale, rounded to two decimals.
func Score(c *models.ConsultantAccount, req Requirement) float64 {
	raw := weightExpertise*expertiseOverlap(c.Expertise, req.Expertise) +
		weightIndustry*boolTerm(req.Industry == "" || containsFold(c.Industries, req.Industry)) +
		weightAvailability*boolTerm(req.HoursPerWeek <= 0 || c.WeeklyAvailability >= req.HoursPerWeek) +
		weightRating*clamp(c.RatingAverage/5, 0, 1) +
		weightRate*boolTerm(req.MaxHourlyRate <= 0 || c.HourlyRate <= req.MaxHourlyRate) +
		weightExperience*boolTerm(req.MinExperience == "" || c.ExperienceBracket.Rank() >= req.MinExperience.Rank())

	score, _ := decimal.NewFromFloat(clamp(raw*100, 0, 100)).Round(2).Float64()
	return score
}

// Rank orders by score, rating, completed projects, earliest application, then id.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RatingAverage != b.RatingAverage {
			return a.RatingAverage > b.RatingAverage
		}
		if a.CompletedProjects != b.CompletedProjects {
			return a.CompletedProjects > b.CompletedProjects
		}
		if !a.AppliedAt.Equal(b.AppliedAt) {
			return a.AppliedAt.Before(b.AppliedAt)
		}
		return a.ConsultantID.String() < b.ConsultantID.String()
	})
}

func expertiseOverlap(have, want []string) float64 {
	required := make(map[string]struct{}, len(want))
	for _, w := range want {
		if w = normalize(w); w != "" {
			required[w] = struct{}{}
		}
	}
	if len(required) == 0 {
		return 1
	}
	hit := 0
	seen := make(map[string]struct{}, len(have))
	for _, h := range have {
		h = normalize(h)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := required[h]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(required))
}

func containsFold(list []string, v string) bool {
	v = normalize(v)
	for _, s := range list {
		if normalize(s) == v {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func boolTerm(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
