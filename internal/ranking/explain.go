package ranking

import (
	"fmt"

	"offer-ranking-api/internal/models"
)

// FallbackExplanation is the single line given to an offer on which nothing
// fired.
const FallbackExplanation = "Standard price, no extra discounts or perks identified for this item with your current setup."

// explain builds the explanation list in one pass from the final stage
// results. Card lines come only from the winning card.
func explain(discount discountResult, cashback cashbackResult, best cardResult) []string {
	lines := make([]string, 0, len(discount.lines)+len(cashback.lines)+len(best.bonusLines)+1)

	lines = append(lines, discount.lines...)
	lines = append(lines, cashback.lines...)
	lines = append(lines, best.bonusLines...)
	if best.perkLine != "" {
		lines = append(lines, best.perkLine)
	}

	// Rollups cover contributions that carry value but no stage line.
	if cashback.total.IsPositive() && len(cashback.lines) == 0 {
		lines = append(lines, fmt.Sprintf("Net cashback considered: %s.", rupees(cashback.total)))
	}
	if best.bonus.IsPositive() && len(best.bonusLines) == 0 {
		lines = append(lines, fmt.Sprintf("Includes %s card bonus.", rupees(best.bonus)))
	}
	if best.perk.IsPositive() && best.perkLine == "" {
		lines = append(lines, fmt.Sprintf("Helps unlock future perk value of %s.", rupees(best.perk)))
	}

	if len(lines) == 0 {
		lines = append(lines, FallbackExplanation)
	}
	return lines
}

func tagsFor(discount discountResult, cashback cashbackResult, best cardResult) []string {
	var tags []string
	if len(cashback.lines) > 0 {
		tags = append(tags, models.TagExtraCashback)
	}
	if best.perk.IsPositive() {
		tags = append(tags, models.TagRewardUnlock)
	}
	if discount.applied.IsPositive() && cashback.total.IsPositive() && best.bonus.IsPositive() {
		tags = append(tags, models.TagBestCombo)
	}
	return tags
}
