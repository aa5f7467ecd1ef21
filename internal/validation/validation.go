package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

const (
	maxIDLength   = 128
	maxTextLength = 512
	maxOffers     = 500
	maxCards      = 50
)

var (
	idRegex        = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	last4Regex     = regexp.MustCompile(`^\d{4}$`)
	hundredPercent = decimal.NewFromInt(100)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func ValidateOffer(offer models.Offer) error {
	if err := ValidateID(offer.ID, "id"); err != nil {
		return err
	}

	if offer.ProductID != "" {
		if err := ValidateID(offer.ProductID, "product_id"); err != nil {
			return err
		}
	}

	if err := validateText(offer.ProductName, "product_name", true); err != nil {
		return err
	}

	if err := validateText(offer.Platform, "platform", true); err != nil {
		return err
	}

	if err := validateText(offer.ProductURL, "product_url", false); err != nil {
		return err
	}

	if err := validateText(offer.RequiredCardType, "required_card_type", false); err != nil {
		return err
	}

	if offer.BasePrice.IsNegative() {
		return &ValidationError{
			Field:   "base_price",
			Message: "must be non-negative",
		}
	}

	amounts := []struct {
		field string
		value *decimal.Decimal
	}{
		{"coupon_value", offer.CouponValue},
		{"cashback_flat", offer.CashbackFlat},
		{"card_specific_bonus_flat", offer.CardSpecificBonusFlat},
	}
	for _, a := range amounts {
		if err := validateNonNegative(a.value, a.field); err != nil {
			return err
		}
	}

	if err := validatePercentage(offer.CashbackPercentage, "cashback_percentage"); err != nil {
		return err
	}

	return validatePercentage(offer.CardSpecificBonusPercentage, "card_specific_bonus_percentage")
}

// ValidateOffers validates a batch of offers. Offer ids must be unique within
// the batch.
func ValidateOffers(offers []models.Offer) error {
	if len(offers) > maxOffers {
		return &ValidationError{
			Field:   "offers",
			Message: fmt.Sprintf("cannot contain more than %d offers", maxOffers),
		}
	}

	seen := make(map[string]bool)
	for i, offer := range offers {
		if err := ValidateOffer(offer); err != nil {
			return fmt.Errorf("invalid offer at index %d: %w", i, err)
		}
		if seen[offer.ID] {
			return &ValidationError{
				Field:   "offers",
				Message: fmt.Sprintf("duplicate offer id: %s", offer.ID),
			}
		}
		seen[offer.ID] = true
	}

	return nil
}

func ValidateUserCard(card models.UserCard) error {
	if err := ValidateID(card.ID, "id"); err != nil {
		return err
	}

	if err := ValidateID(card.UserID, "user_id"); err != nil {
		return err
	}

	return validateCardTerms(card)
}

// validateCardTerms checks everything on a card except its ids.
func validateCardTerms(card models.UserCard) error {
	if err := validateText(card.Bank, "bank", true); err != nil {
		return err
	}

	if err := validateText(card.CardType, "card_type", true); err != nil {
		return err
	}

	if card.Last4Digits != "" && !last4Regex.MatchString(card.Last4Digits) {
		return &ValidationError{
			Field:   "last4_digits",
			Message: "must be exactly 4 digits",
		}
	}

	fields := []struct {
		field string
		value *decimal.Decimal
	}{
		{"rewards_per_rupee_spent", card.RewardsPerRupeeSpent},
		{"reward_value_in_rupees", card.RewardValueInRupees},
		{"current_points", card.CurrentPoints},
		{"next_reward_threshold", card.NextRewardThreshold},
		{"next_reward_value_in_rupees", card.NextRewardValueInRupees},
	}
	for _, f := range fields {
		if err := validateNonNegative(f.value, f.field); err != nil {
			return err
		}
	}

	return nil
}

func ValidateLoyaltyProgram(program models.LoyaltyProgram) error {
	if err := ValidateID(program.ID, "id"); err != nil {
		return err
	}

	if err := ValidateID(program.UserID, "user_id"); err != nil {
		return err
	}

	if err := validateText(program.ProgramName, "program_name", true); err != nil {
		return err
	}

	if program.CurrentPoints.IsNegative() {
		return &ValidationError{
			Field:   "current_points",
			Message: "must be non-negative",
		}
	}

	if err := validateNonNegative(program.PointValueInRupees, "point_value_in_rupees"); err != nil {
		return err
	}

	return validateNonNegative(program.PointsToNextTier, "points_to_next_tier")
}

func ValidateRewardGoal(goal models.RewardGoal) error {
	if err := ValidateID(goal.ID, "id"); err != nil {
		return err
	}

	if err := ValidateID(goal.UserID, "user_id"); err != nil {
		return err
	}

	if err := validateText(goal.Description, "description", true); err != nil {
		return err
	}

	switch goal.TargetType {
	case models.GoalMonetarySavingsMonthly:
	case models.GoalPointsMilestoneCard:
		if goal.CardIDRef == "" {
			return &ValidationError{
				Field:   "card_id_ref",
				Message: "is required for points_milestone_card goals",
			}
		}
	case models.GoalPointsMilestoneProgram:
		if goal.LoyaltyProgramIDRef == "" {
			return &ValidationError{
				Field:   "loyalty_program_id_ref",
				Message: "is required for points_milestone_program goals",
			}
		}
	default:
		return &ValidationError{
			Field:   "target_type",
			Message: fmt.Sprintf("unknown target type %q", goal.TargetType),
		}
	}

	if !goal.TargetValue.IsPositive() {
		return &ValidationError{
			Field:   "target_value",
			Message: "must be positive",
		}
	}

	return nil
}

// ValidateUserState checks a request-supplied snapshot. Cards in a snapshot
// need not carry a user id.
func ValidateUserState(state models.UserState) error {
	if len(state.Cards) > maxCards {
		return &ValidationError{
			Field:   "user_state.cards",
			Message: fmt.Sprintf("cannot contain more than %d cards", maxCards),
		}
	}

	for i, card := range state.Cards {
		err := ValidateID(card.ID, "id")
		if err == nil {
			err = validateCardTerms(card)
		}
		if err != nil {
			return fmt.Errorf("invalid card at index %d: %w", i, err)
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// SanitizeOffer sanitizes every free-text field of an offer in place.
func SanitizeOffer(offer *models.Offer) {
	offer.ID = SanitizeString(offer.ID)
	offer.ProductID = SanitizeString(offer.ProductID)
	offer.ProductName = SanitizeString(offer.ProductName)
	offer.ProductImageURL = SanitizeString(offer.ProductImageURL)
	offer.ProductURL = SanitizeString(offer.ProductURL)
	offer.Platform = SanitizeString(offer.Platform)
	offer.RequiredCardType = SanitizeString(offer.RequiredCardType)
}

// SanitizeCard sanitizes every free-text field of a card in place.
func SanitizeCard(card *models.UserCard) {
	card.ID = SanitizeString(card.ID)
	card.UserID = SanitizeString(card.UserID)
	card.Bank = SanitizeString(card.Bank)
	card.CardType = SanitizeString(card.CardType)
	card.Last4Digits = SanitizeString(card.Last4Digits)
}

// ValidateID checks an opaque identifier.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if len(id) > maxIDLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxIDLength),
		}
	}

	if !idRegex.MatchString(id) {
		return &ValidationError{
			Field:   fieldName,
			Message: "may only contain letters, digits, '.', '_', ':' and '-'",
		}
	}

	return nil
}

func validateText(s, fieldName string, required bool) error {
	if required && SanitizeString(s) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if len(s) > maxTextLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxTextLength),
		}
	}

	return nil
}

func validateNonNegative(value *decimal.Decimal, fieldName string) error {
	if value != nil && value.IsNegative() {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be non-negative",
		}
	}
	return nil
}

func validatePercentage(value *decimal.Decimal, fieldName string) error {
	if err := validateNonNegative(value, fieldName); err != nil {
		return err
	}

	if value != nil && value.GreaterThan(hundredPercent) {
		return &ValidationError{
			Field:   fieldName,
			Message: "cannot exceed 100",
		}
	}

	return nil
}
