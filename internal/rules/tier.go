package rules

import "github.com/loyalcore/backend/internal/models"

// TierFor returns the highest tier whose MinPoints does not exceed
// totalEarned, or nil when the customer qualifies for none. tiers may be in
// any order.
func TierFor(tiers []*models.Tier, totalEarned int) *models.Tier {
	var best *models.Tier
	for _, t := range tiers {
		if t.MinPoints > totalEarned {
			continue
		}
		if best == nil || t.MinPoints > best.MinPoints {
			best = t
		}
	}
	return best
}
