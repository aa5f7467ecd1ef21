package ranking

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

// cardResult is what paying for one offer with one card is worth.
type cardResult struct {
	card       *models.UserCard
	bonus      decimal.Decimal
	bonusLines []string
	perk       decimal.Decimal
	perkLine   string
}

func (r cardResult) value() decimal.Decimal {
	return r.bonus.Add(r.perk)
}

// resolveCard picks the card with the highest bonus plus unlocked perk. Only
// a strictly greater value replaces the current best, so the earliest card
// wins ties. With no cards, or no card worth anything, the zero result is
// returned.
func (e *Engine) resolveCard(offer models.Offer, finalPrice decimal.Decimal, cards []models.UserCard) cardResult {
	var best cardResult
	for i := range cards {
		candidate := e.evaluateCard(offer, finalPrice, &cards[i])
		if candidate.value().GreaterThan(best.value()) {
			best = candidate
		}
	}
	return best
}

func (e *Engine) evaluateCard(offer models.Offer, finalPrice decimal.Decimal, card *models.UserCard) cardResult {
	res := cardResult{card: card}
	name := card.DisplayName()

	if cardEligible(offer, *card) {
		if flat := valueOf(offer.CardSpecificBonusFlat); flat.IsPositive() {
			res.bonus = res.bonus.Add(flat)
			res.bonusLines = append(res.bonusLines, fmt.Sprintf("%s extra with %s.", rupees(flat), name))
		}
		if pct := valueOf(offer.CardSpecificBonusPercentage); pct.IsPositive() {
			bonus := percentOf(finalPrice, pct)
			res.bonus = res.bonus.Add(bonus)
			res.bonusLines = append(res.bonusLines, fmt.Sprintf("%s (%s%%) extra with %s.", rupees(bonus), pct.String(), name))
		}
	}

	if perk, ok := e.unlockedPerk(*card, finalPrice); ok {
		res.perk = perk
		res.perkLine = fmt.Sprintf("Unlocks %s perk on %s!", rupees(perk), name)
	}

	return res
}

// cardEligible reports whether the offer's card-specific bonus applies to the
// card: either the offer names no card, or "<bank> <card_type>" contains the
// required type, ignoring case.
func cardEligible(offer models.Offer, card models.UserCard) bool {
	if offer.RequiredCardType == "" {
		return true
	}
	return strings.Contains(
		strings.ToLower(card.DisplayName()),
		strings.ToLower(offer.RequiredCardType),
	)
}

// unlockedPerk returns the card's next milestone perk when this purchase, and
// only this purchase, carries the balance across the threshold. A balance
// already at or above the threshold unlocks nothing.
func (e *Engine) unlockedPerk(card models.UserCard, finalPrice decimal.Decimal) (decimal.Decimal, bool) {
	if card.CurrentPoints == nil {
		return decimal.Zero, false
	}
	threshold := valueOf(card.NextRewardThreshold)
	perkValue := valueOf(card.NextRewardValueInRupees)
	rate := valueOf(card.RewardsPerRupeeSpent)
	if !threshold.IsPositive() || !perkValue.IsPositive() || !rate.IsPositive() {
		return decimal.Zero, false
	}

	current := *card.CurrentPoints
	pointsEarned := finalPrice.Mul(rate).Floor()
	totalAfter := current.Add(pointsEarned)

	crossed := current.LessThan(threshold) && totalAfter.GreaterThanOrEqual(threshold)
	if !crossed || finalPrice.LessThan(e.opts.MinSpendForPerkConsideration) {
		return decimal.Zero, false
	}

	return perkValue, true
}
