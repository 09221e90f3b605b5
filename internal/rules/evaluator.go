// Package rules computes points earned for a purchase. It performs no I/O.
package rules

import (
	"math"

	"github.com/loyalcore/backend/internal/models"
)

// Evaluate returns the points a transaction of amount (minor currency units)
// earns under rules for a customer in tier. Each qualifying rule is clamped
// to its own MaxPoints, the clamped values are summed, and the tier
// multiplier is applied once to the total, truncating toward zero.
// A nil tier means a multiplier of 1.
func Evaluate(rules []models.EarnRule, amount int64, tier *models.Tier) int {
	if amount <= 0 {
		return 0
	}

	total := 0
	for _, r := range rules {
		total += RulePoints(r, amount)
	}

	multiplier := 1.0
	if tier != nil && tier.Multiplier > 0 {
		multiplier = tier.Multiplier
	}
	return int(math.Trunc(float64(total) * multiplier))
}

// RulePoints returns one rule's contribution before the tier multiplier.
func RulePoints(r models.EarnRule, amount int64) int {
	if !r.IsActive {
		return 0
	}
	if r.MinAmount != nil && amount < *r.MinAmount {
		return 0
	}

	var pts int
	switch r.Type {
	case models.EarnRulePerAmount:
		if r.Value <= 0 {
			return 0
		}
		pts = int(math.Floor(float64(amount) / r.Value))
	case models.EarnRuleFixed:
		pts = int(math.Floor(r.Value))
	case models.EarnRuleMultiplier:
		pts = int(math.Floor(float64(amount) * r.Value))
	default:
		return 0
	}

	if pts < 0 {
		pts = 0
	}
	if r.MaxPoints != nil && pts > *r.MaxPoints {
		pts = *r.MaxPoints
	}
	return pts
}
