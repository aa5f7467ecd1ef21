package models

import "github.com/shopspring/decimal"

// Offer is a priced purchase option for a product on one platform.
// Optional terms are nil when the offer does not carry them.
type Offer struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id,omitempty"`
	ProductName     string `json:"product_name"`
	ProductImageURL string `json:"product_image_url,omitempty"`
	ProductURL      string `json:"product_url"`
	Platform        string `json:"platform"` // e.g. "Amazon.in", "Flipkart"

	BasePrice decimal.Decimal `json:"base_price"`

	CouponValue                 *decimal.Decimal `json:"coupon_value,omitempty"`
	CashbackPercentage          *decimal.Decimal `json:"cashback_percentage,omitempty"` // 5 means 5%
	CashbackFlat                *decimal.Decimal `json:"cashback_flat,omitempty"`
	CardSpecificBonusPercentage *decimal.Decimal `json:"card_specific_bonus_percentage,omitempty"`
	CardSpecificBonusFlat       *decimal.Decimal `json:"card_specific_bonus_flat,omitempty"`
	RequiredCardType            string           `json:"required_card_type,omitempty"` // matched against "<bank> <card_type>"
}

// UserCard is a payment card held by a user, with its reward structure.
type UserCard struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Bank        string `json:"bank"`      // e.g. "HDFC"
	CardType    string `json:"card_type"` // e.g. "Infinia"
	Last4Digits string `json:"last4_digits,omitempty"`

	RewardsPerRupeeSpent *decimal.Decimal `json:"rewards_per_rupee_spent,omitempty"`
	RewardValueInRupees  *decimal.Decimal `json:"reward_value_in_rupees,omitempty"`

	CurrentPoints           *decimal.Decimal `json:"current_points,omitempty"`
	NextRewardThreshold     *decimal.Decimal `json:"next_reward_threshold,omitempty"`
	NextRewardValueInRupees *decimal.Decimal `json:"next_reward_value_in_rupees,omitempty"`
}

// DisplayName returns "<bank> <card_type>", the string offers match against.
func (c UserCard) DisplayName() string {
	return c.Bank + " " + c.CardType
}

// LoyaltyProgram is a non-card points program (e.g. "Flipkart SuperCoins").
type LoyaltyProgram struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	ProgramName        string           `json:"program_name"`
	CurrentPoints      decimal.Decimal  `json:"current_points"`
	PointValueInRupees *decimal.Decimal `json:"point_value_in_rupees,omitempty"`
	NextTier           string           `json:"next_tier,omitempty"`
	PointsToNextTier   *decimal.Decimal `json:"points_to_next_tier,omitempty"`
	NextTierBenefits   string           `json:"next_tier_benefits,omitempty"`
}

// GoalTargetType enumerates what a reward goal is measured against.
type GoalTargetType string

const (
	GoalMonetarySavingsMonthly GoalTargetType = "monetary_savings_monthly"
	GoalPointsMilestoneCard    GoalTargetType = "points_milestone_card"
	GoalPointsMilestoneProgram GoalTargetType = "points_milestone_program"
)

// RewardGoal is a user-declared savings or points target.
type RewardGoal struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Description         string          `json:"description"`
	TargetType          GoalTargetType  `json:"target_type"`
	TargetValue         decimal.Decimal `json:"target_value"`
	CardIDRef           string          `json:"card_id_ref,omitempty"`
	LoyaltyProgramIDRef string          `json:"loyalty_program_id_ref,omitempty"`
	IsActive            bool            `json:"is_active"`
}

// UserState is the snapshot of a user's instruments used for one ranking.
// Loyalty programs and goals are passed through untouched.
type UserState struct {
	Cards           []UserCard       `json:"cards"`
	LoyaltyPrograms []LoyaltyProgram `json:"loyalty_programs,omitempty"`
	RewardGoals     []RewardGoal     `json:"reward_goals,omitempty"`
}

// Offer tags. They are display hints and never affect the score.
const (
	TagExtraCashback = "Extra Cashback"
	TagRewardUnlock  = "Reward Unlock"
	TagBestCombo     = "Best Combo"
)

// RankedOffer is an Offer annotated with the engine's computed values.
type RankedOffer struct {
	Offer

	Rank int `json:"rank"` // 1-based position after sorting

	FinalPrice         decimal.Decimal `json:"final_price"` // after coupon, before cashback and card value
	EffectivePrice     decimal.Decimal `json:"effective_price"`
	TotalDiscountValue decimal.Decimal `json:"total_discount_value"`
	TotalCashbackValue decimal.Decimal `json:"total_cashback_value"`
	CardBonusValue     decimal.Decimal `json:"card_bonus_value"`
	PotentialPerkValue decimal.Decimal `json:"potential_perk_value"`
	CompositeScore     decimal.Decimal `json:"composite_score"`

	RankingExplanation      []string `json:"ranking_explanation"`
	AchievedPerkDescription string   `json:"achieved_perk_description,omitempty"`
	BestCardID              string   `json:"best_card_id,omitempty"`
	Tags                    []string `json:"tags,omitempty"`
}

// RankOffersRequest is the body of a stateless ranking request.
type RankOffersRequest struct {
	Offers    []Offer   `json:"offers"`
	UserState UserState `json:"user_state"`
}

// RankedOffersResponse carries the ordered offers plus the user context
// consumed by downstream explanation rendering.
type RankedOffersResponse struct {
	UserID          string           `json:"user_id,omitempty"`
	ProductID       string           `json:"product_id,omitempty"`
	RankedOffers    []RankedOffer    `json:"ranked_offers"`
	LoyaltyPrograms []LoyaltyProgram `json:"loyalty_programs,omitempty"`
	RewardGoals     []RewardGoal     `json:"reward_goals,omitempty"`
}

// ReplaceOffersRequest is the body for storing a product's candidate offers.
type ReplaceOffersRequest struct {
	Offers []Offer `json:"offers"`
}

// ProductOffersResponse lists the stored offers of a product.
type ProductOffersResponse struct {
	ProductID string  `json:"product_id"`
	Offers    []Offer `json:"offers"`
}

// CardsResponse lists a user's cards.
type CardsResponse struct {
	UserID string     `json:"user_id"`
	Cards  []UserCard `json:"cards"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
