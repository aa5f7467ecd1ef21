// Package ranking scores purchase offers against a user's cards and orders
// them by the total value stacked on top of the base price.
//
// The engine is pure: it performs no I/O, keeps no state between calls and
// never mutates its inputs. Calling Rank twice with the same inputs yields
// identical output.
package ranking

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

// DefaultMinSpendForPerk is the smallest post-coupon price for which a
// milestone perk is credited to a purchase.
const DefaultMinSpendForPerk = 100

// Options tunes the engine.
type Options struct {
	// MinSpendForPerkConsideration keeps large milestone perks from being
	// credited to trivial purchases.
	MinSpendForPerkConsideration decimal.Decimal
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MinSpendForPerkConsideration: decimal.NewFromInt(DefaultMinSpendForPerk),
	}
}

// Engine ranks offers. It is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Rank scores every offer against the user's cards and returns them ordered
// by composite score, highest first. Offers with equal scores keep their
// input order. Empty input yields an empty, non-nil slice.
func (e *Engine) Rank(offers []models.Offer, state models.UserState) []models.RankedOffer {
	ranked := make([]models.RankedOffer, len(offers))
	for i, offer := range offers {
		ranked[i] = e.Score(offer, state.Cards)
	}
	order(ranked)
	return ranked
}

// RankParallel is Rank with per-offer scoring spread over up to workers
// goroutines. Results are merged by input index before sorting, so the
// output is identical to Rank.
func (e *Engine) RankParallel(offers []models.Offer, state models.UserState, workers int) []models.RankedOffer {
	if workers <= 1 || len(offers) < 2 {
		return e.Rank(offers, state)
	}
	if workers > len(offers) {
		workers = len(offers)
	}

	ranked := make([]models.RankedOffer, len(offers))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ranked[i] = e.Score(offers[i], state.Cards)
			}
		}()
	}

	for i := range offers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	order(ranked)
	return ranked
}

// Score runs the discount, cashback, card resolution and scoring stages for
// a single offer. The returned Rank is left at zero.
func (e *Engine) Score(offer models.Offer, cards []models.UserCard) models.RankedOffer {
	discount := applyCoupon(offer)
	cashback := accumulateCashback(offer, discount.finalPrice)
	best := e.resolveCard(offer, discount.finalPrice, cards)

	// effectivePrice may go negative when cashback and perks exceed the
	// discounted price; it is the user's net cost, not a display price.
	effectivePrice := discount.finalPrice.
		Sub(cashback.total).
		Sub(best.bonus).
		Sub(best.perk)

	ranked := models.RankedOffer{
		Offer:              offer,
		FinalPrice:         discount.finalPrice,
		EffectivePrice:     effectivePrice,
		TotalDiscountValue: discount.applied,
		TotalCashbackValue: cashback.total,
		CardBonusValue:     best.bonus,
		PotentialPerkValue: best.perk,
		CompositeScore:     offer.BasePrice.Sub(effectivePrice),
		RankingExplanation: explain(discount, cashback, best),
		Tags:               tagsFor(discount, cashback, best),
	}
	if best.perk.IsPositive() {
		ranked.AchievedPerkDescription = best.perkLine
	}
	if best.card != nil {
		ranked.BestCardID = best.card.ID
	}

	return ranked
}

// order sorts by composite score descending, keeping input order among ties,
// and assigns 1-based ranks.
func order(ranked []models.RankedOffer) {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CompositeScore.GreaterThan(ranked[j].CompositeScore)
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
}
