// Package fee computes the platform's cut of a captured milestone payment.
package fee

import "github.com/shopspring/decimal"

const (
	MinRate = 15
	MaxRate = 40

	// Lifetime earnings thresholds in minor units (USD cents).
	eliteEarnings  int64 = 5_000_000
	provenEarnings int64 = 2_000_000

	eliteProjects     = 10
	provenProjects    = 5
	returningProjects = 2
)

// TrackRecord is the slice of consultant history the fee policy looks at.
type TrackRecord struct {
	CompletedProjects int
	LifetimeEarnings  int64
}

// Rate returns the chargeable fee percentage. It must be computed fresh for every capture,
// never read back from a stored value.
func Rate(tr TrackRecord) int {
	switch {
	case tr.CompletedProjects >= eliteProjects && tr.LifetimeEarnings >= eliteEarnings:
		return 15
	case tr.CompletedProjects >= provenProjects && tr.LifetimeEarnings >= provenEarnings:
		return 25
	case tr.CompletedProjects >= returningProjects:
		return 35
	}
	return MaxRate
}

// PlatformFee is round(amount * rate / 100), half away from zero.
func PlatformFee(amount int64, rate int) int64 {
	return Percent(amount, rate)
}

// Percent returns round(amount * pct / 100).
func Percent(amount int64, pct int) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// ClampDisplayRate bounds the informational rate shown on a profile.
func ClampDisplayRate(rate int) int {
	if rate < MinRate {
		return MinRate
	}
	if rate > MaxRate {
		return MaxRate
	}
	return rate
}
