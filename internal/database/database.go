package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("database: not found")
	// ErrConflict is returned when a write would take over a row owned by
	// another product.
	ErrConflict = errors.New("database: conflict")
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
// Amounts are stored as TEXT to keep them exact.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			product_name TEXT NOT NULL,
			product_image_url TEXT NOT NULL DEFAULT '',
			product_url TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL,
			base_price TEXT NOT NULL,
			coupon_value TEXT,
			cashback_percentage TEXT,
			cashback_flat TEXT,
			card_bonus_percentage TEXT,
			card_bonus_flat TEXT,
			required_card_type TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_cards (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bank TEXT NOT NULL,
			card_type TEXT NOT NULL,
			last4_digits TEXT NOT NULL DEFAULT '',
			rewards_per_rupee TEXT,
			reward_value_inr TEXT,
			current_points TEXT,
			next_reward_threshold TEXT,
			next_reward_value_inr TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS loyalty_programs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			program_name TEXT NOT NULL,
			current_points TEXT NOT NULL,
			point_value_inr TEXT,
			next_tier TEXT NOT NULL DEFAULT '',
			points_to_next_tier TEXT,
			next_tier_benefits TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reward_goals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_value TEXT NOT NULL,
			card_id_ref TEXT NOT NULL DEFAULT '',
			loyalty_program_id_ref TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_product ON offers(product_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_user ON user_cards(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_programs_user ON loyalty_programs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_user ON reward_goals(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// ReplaceProductOffers replaces the full candidate set of a product in a
// single transaction. Input order is stored so reads return it unchanged.
// Offer ids are global: an id already stored under another product fails
// with ErrConflict and nothing is written.
func (db *DB) ReplaceProductOffers(ctx context.Context, productID string, offers []models.Offer) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, offer := range offers {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT product_id FROM offers WHERE id = ?`, offer.ID).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return 0, fmt.Errorf("failed to look up offer %s: %w", offer.ID, err)
		case owner != productID:
			return 0, fmt.Errorf("offer %s belongs to product %s: %w", offer.ID, owner, ErrConflict)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM offers WHERE product_id = ?`, productID); err != nil {
		return 0, fmt.Errorf("failed to clear offers for product %s: %w", productID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO offers (
		id, product_id, position, product_name, product_image_url, product_url,
		platform, base_price, coupon_value, cashback_percentage, cashback_flat,
		card_bonus_percentage, card_bonus_flat, required_card_type, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for i, offer := range offers {
		_, err := stmt.ExecContext(ctx,
			offer.ID,
			productID,
			i,
			offer.ProductName,
			offer.ProductImageURL,
			offer.ProductURL,
			offer.Platform,
			offer.BasePrice.String(),
			nullable(offer.CouponValue),
			nullable(offer.CashbackPercentage),
			nullable(offer.CashbackFlat),
			nullable(offer.CardSpecificBonusPercentage),
			nullable(offer.CardSpecificBonusFlat),
			offer.RequiredCardType,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert offer %s: %w", offer.ID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// GetProductOffers returns the stored offers of a product in input order.
func (db *DB) GetProductOffers(ctx context.Context, productID string) ([]models.Offer, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, product_id, product_name,
		product_image_url, product_url, platform, base_price, coupon_value,
		cashback_percentage, cashback_flat, card_bonus_percentage,
		card_bonus_flat, required_card_type
		FROM offers
		WHERE product_id = ?
		ORDER BY position`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		var offer models.Offer
		var basePrice string
		var coupon, cashbackPct, cashbackFlat, bonusPct, bonusFlat decimal.NullDecimal

		err := rows.Scan(
			&offer.ID,
			&offer.ProductID,
			&offer.ProductName,
			&offer.ProductImageURL,
			&offer.ProductURL,
			&offer.Platform,
			&basePrice,
			&coupon,
			&cashbackPct,
			&cashbackFlat,
			&bonusPct,
			&bonusFlat,
			&offer.RequiredCardType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}

		offer.BasePrice, err = decimal.NewFromString(basePrice)
		if err != nil {
			return nil, fmt.Errorf("failed to parse base_price of offer %s: %w", offer.ID, err)
		}
		offer.CouponValue = pointer(coupon)
		offer.CashbackPercentage = pointer(cashbackPct)
		offer.CashbackFlat = pointer(cashbackFlat)
		offer.CardSpecificBonusPercentage = pointer(bonusPct)
		offer.CardSpecificBonusFlat = pointer(bonusFlat)

		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}

// UpsertCard creates or updates a card.
func (db *DB) UpsertCard(ctx context.Context, card models.UserCard) error {
	query := `INSERT INTO user_cards (
		id, user_id, bank, card_type, last4_digits, rewards_per_rupee,
		reward_value_inr, current_points, next_reward_threshold,
		next_reward_value_inr, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		bank = excluded.bank,
		card_type = excluded.card_type,
		last4_digits = excluded.last4_digits,
		rewards_per_rupee = excluded.rewards_per_rupee,
		reward_value_inr = excluded.reward_value_inr,
		current_points = excluded.current_points,
		next_reward_threshold = excluded.next_reward_threshold,
		next_reward_value_inr = excluded.next_reward_value_inr,
		updated_at = excluded.updated_at
	WHERE user_cards.user_id = excluded.user_id`

	res, err := db.conn.ExecContext(ctx, query,
		card.ID,
		card.UserID,
		card.Bank,
		card.CardType,
		card.Last4Digits,
		nullable(card.RewardsPerRupeeSpent),
		nullable(card.RewardValueInRupees),
		nullable(card.CurrentPoints),
		nullable(card.NextRewardThreshold),
		nullable(card.NextRewardValueInRupees),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}

	// A conflicting id owned by another user updates nothing.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("card %s belongs to another user: %w", card.ID, ErrNotFound)
	}

	return nil
}

// ListCards returns a user's cards in the order they were added.
func (db *DB) ListCards(ctx context.Context, userID string) ([]models.UserCard, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, bank, card_type,
		last4_digits, rewards_per_rupee, reward_value_inr, current_points,
		next_reward_threshold, next_reward_value_inr
		FROM user_cards
		WHERE user_id = ?
		ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	cards := []models.UserCard{}
	for rows.Next() {
		var card models.UserCard
		var rate, value, points, threshold, perk decimal.NullDecimal

		err := rows.Scan(
			&card.ID,
			&card.UserID,
			&card.Bank,
			&card.CardType,
			&card.Last4Digits,
			&rate,
			&value,
			&points,
			&threshold,
			&perk,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}

		card.RewardsPerRupeeSpent = pointer(rate)
		card.RewardValueInRupees = pointer(value)
		card.CurrentPoints = pointer(points)
		card.NextRewardThreshold = pointer(threshold)
		card.NextRewardValueInRupees = pointer(perk)

		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// DeleteCard removes one of a user's cards.
func (db *DB) DeleteCard(ctx context.Context, userID, cardID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_cards WHERE id = ? AND user_id = ?`, cardID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}

	return nil
}

// UpsertLoyaltyProgram creates or updates a loyalty program.
func (db *DB) UpsertLoyaltyProgram(ctx context.Context, program models.LoyaltyProgram) error {
	query := `INSERT INTO loyalty_programs (
		id, user_id, program_name, current_points, point_value_inr,
		next_tier, points_to_next_tier, next_tier_benefits, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		program_name = excluded.program_name,
		current_points = excluded.current_points,
		point_value_inr = excluded.point_value_inr,
		next_tier = excluded.next_tier,
		points_to_next_tier = excluded.points_to_next_tier,
		next_tier_benefits = excluded.next_tier_benefits,
		updated_at = excluded.updated_at
	WHERE loyalty_programs.user_id = excluded.user_id`

	res, err := db.conn.ExecContext(ctx, query,
		program.ID,
		program.UserID,
		program.ProgramName,
		program.CurrentPoints.String(),
		nullable(program.PointValueInRupees),
		program.NextTier,
		nullable(program.PointsToNextTier),
		program.NextTierBenefits,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert loyalty program: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("loyalty program %s belongs to another user: %w", program.ID, ErrNotFound)
	}

	return nil
}

// ListLoyaltyPrograms returns a user's loyalty programs.
func (db *DB) ListLoyaltyPrograms(ctx context.Context, userID string) ([]models.LoyaltyProgram, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, program_name,
		current_points, point_value_inr, next_tier, points_to_next_tier,
		next_tier_benefits
		FROM loyalty_programs
		WHERE user_id = ?
		ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loyalty programs: %w", err)
	}
	defer rows.Close()

	programs := []models.LoyaltyProgram{}
	for rows.Next() {
		var program models.LoyaltyProgram
		var points string
		var pointValue, toNextTier decimal.NullDecimal

		err := rows.Scan(
			&program.ID,
			&program.UserID,
			&program.ProgramName,
			&points,
			&pointValue,
			&program.NextTier,
			&toNextTier,
			&program.NextTierBenefits,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loyalty program: %w", err)
		}

		program.CurrentPoints, err = decimal.NewFromString(points)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current_points of program %s: %w", program.ID, err)
		}
		program.PointValueInRupees = pointer(pointValue)
		program.PointsToNextTier = pointer(toNextTier)

		programs = append(programs, program)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loyalty programs: %w", err)
	}

	return programs, nil
}

// UpsertRewardGoal creates or updates a reward goal.
func (db *DB) UpsertRewardGoal(ctx context.Context, goal models.RewardGoal) error {
	query := `INSERT INTO reward_goals (
		id, user_id, description, target_type, target_value, card_id_ref,
		loyalty_program_id_ref, is_active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		description = excluded.description,
		target_type = excluded.target_type,
		target_value = excluded.target_value,
		card_id_ref = excluded.card_id_ref,
		loyalty_program_id_ref = excluded.loyalty_program_id_ref,
		is_active = excluded.is_active,
		updated_at = excluded.updated_at
	WHERE reward_goals.user_id = excluded.user_id`

	res, err := db.conn.ExecContext(ctx, query,
		goal.ID,
		goal.UserID,
		goal.Description,
		string(goal.TargetType),
		goal.TargetValue.String(),
		goal.CardIDRef,
		goal.LoyaltyProgramIDRef,
		goal.IsActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reward goal: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reward goal %s belongs to another user: %w", goal.ID, ErrNotFound)
	}

	return nil
}

// ListRewardGoals returns a user's reward goals.
func (db *DB) ListRewardGoals(ctx context.Context, userID string) ([]models.RewardGoal, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, description,
		target_type, target_value, card_id_ref, loyalty_program_id_ref, is_active
		FROM reward_goals
		WHERE user_id = ?
		ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward goals: %w", err)
	}
	defer rows.Close()

	goals := []models.RewardGoal{}
	for rows.Next() {
		var goal models.RewardGoal
		var targetType, targetValue string

		err := rows.Scan(
			&goal.ID,
			&goal.UserID,
			&goal.Description,
			&targetType,
			&targetValue,
			&goal.CardIDRef,
			&goal.LoyaltyProgramIDRef,
			&goal.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward goal: %w", err)
		}

		goal.TargetType = models.GoalTargetType(targetType)
		goal.TargetValue, err = decimal.NewFromString(targetValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse target_value of goal %s: %w", goal.ID, err)
		}

		goals = append(goals, goal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward goals: %w", err)
	}

	return goals, nil
}

// nullable converts an optional amount to a value the driver stores as TEXT
// or NULL.
func nullable(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func pointer(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
