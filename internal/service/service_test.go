package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/cache"
	"offer-ranking-api/internal/database"
	"offer-ranking-api/internal/events"
	"offer-ranking-api/internal/features"
	"offer-ranking-api/internal/logger"
	"offer-ranking-api/internal/models"
	"offer-ranking-api/internal/ranking"
	"offer-ranking-api/internal/validation"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testOffers() []models.Offer {
	return []models.Offer{
		{
			ID:          "flipkart-1",
			ProductName: "Headphones",
			Platform:    "Flipkart",
			BasePrice:   decimal.NewFromInt(1000),
			CouponValue: amount("50"),
		},
		{
			ID:                          "amazon-1",
			ProductName:                 "Headphones",
			Platform:                    "Amazon.in",
			BasePrice:                   decimal.NewFromInt(1000),
			CashbackPercentage:          amount("5"),
			CardSpecificBonusFlat:       amount("100"),
			RequiredCardType:            "hdfc",
			CardSpecificBonusPercentage: nil,
		},
	}
}

func hdfcCard(userID string) models.UserCard {
	return models.UserCard{
		ID:       "card-hdfc",
		UserID:   userID,
		Bank:     "HDFC",
		CardType: "Millennia",
	}
}

func TestRankOffers(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})

	state := models.UserState{
		Cards:           []models.UserCard{{ID: "c1", Bank: "HDFC", CardType: "Millennia"}},
		LoyaltyPrograms: []models.LoyaltyProgram{{ID: "lp", ProgramName: "SuperCoins"}},
	}

	resp, err := svc.RankOffers(context.Background(), testOffers(), state)
	if err != nil {
		t.Fatalf("Failed to rank offers: %v", err)
	}

	if len(resp.RankedOffers) != 2 {
		t.Fatalf("Expected 2 ranked offers, got %d", len(resp.RankedOffers))
	}
	top := resp.RankedOffers[0]
	if top.ID != "amazon-1" || top.Rank != 1 {
		t.Errorf("Expected amazon-1 ranked first, got %s (rank %d)", top.ID, top.Rank)
	}
	// 50 cashback + 100 card bonus
	if !top.CompositeScore.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected composite score 150, got %s", top.CompositeScore)
	}
	if top.BestCardID != "c1" {
		t.Errorf("Expected best card c1, got %q", top.BestCardID)
	}
	if len(resp.LoyaltyPrograms) != 1 {
		t.Errorf("Expected loyalty programs to pass through")
	}
}

func TestRankOffers_ValidationError(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})

	offers := testOffers()
	offers[0].BasePrice = decimal.NewFromInt(-1)

	_, err := svc.RankOffers(context.Background(), offers, models.UserState{})
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestRankOffers_Empty(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})

	resp, err := svc.RankOffers(context.Background(), nil, models.UserState{})
	if err != nil {
		t.Fatalf("Expected no error for empty input, got %v", err)
	}
	if resp.RankedOffers == nil || len(resp.RankedOffers) != 0 {
		t.Errorf("Expected empty, non-nil ranked offers, got %v", resp.RankedOffers)
	}
}

// countingCache records reads and writes around an in-memory cache.
type countingCache struct {
	*cache.InMemoryCache
	gets, sets atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.InMemoryCache.Get(ctx, key)
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets.Add(1)
	return c.InMemoryCache.Set(ctx, key, value, ttl)
}

func TestGetRankedOffers_CacheAndEvents(t *testing.T) {
	db := setupTestDB(t)
	c := &countingCache{InMemoryCache: cache.NewInMemoryCache(0)}
	em := events.NewManager(true, logger.Discard())

	var hits, misses atomic.Int32
	em.Subscribe(events.EventRankingCompleted, func(ctx context.Context, e events.Event) error {
		if e.Data.(events.RankingCompletedData).CacheHit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
		return nil
	})

	svc := NewService(db, ranking.NewEngine(ranking.DefaultOptions()), Options{
		Cache:    c,
		CacheTTL: time.Minute,
		Events:   em,
		Features: features.NewDefaultManager(true, true, false),
	})
	ctx := context.Background()
	userID := uuid.New().String()

	if _, err := svc.ReplaceProductOffers(ctx, "prod-1", testOffers()); err != nil {
		t.Fatalf("Failed to store offers: %v", err)
	}
	if _, err := svc.UpsertCard(ctx, userID, hdfcCard("")); err != nil {
		t.Fatalf("Failed to store card: %v", err)
	}

	first, err := svc.GetRankedOffers(ctx, userID, "prod-1")
	if err != nil {
		t.Fatalf("Failed to rank: %v", err)
	}
	second, err := svc.GetRankedOffers(ctx, userID, "prod-1")
	if err != nil {
		t.Fatalf("Failed to rank: %v", err)
	}
	em.Flush()

	if c.sets.Load() != 1 {
		t.Errorf("Expected one cache write, got %d", c.sets.Load())
	}
	if hits.Load() != 1 || misses.Load() != 1 {
		t.Errorf("Expected one hit and one miss, got %d/%d", hits.Load(), misses.Load())
	}
	if first.RankedOffers[0].ID != second.RankedOffers[0].ID ||
		!first.RankedOffers[0].CompositeScore.Equal(second.RankedOffers[0].CompositeScore) {
		t.Errorf("Expected cached ranking to match computed ranking")
	}
	if second.UserID != userID || second.ProductID != "prod-1" {
		t.Errorf("Unexpected response ids: %s %s", second.UserID, second.ProductID)
	}

	// A wallet change yields a new fingerprint.
	if err := svc.DeleteCard(ctx, userID, "card-hdfc"); err != nil {
		t.Fatalf("Failed to delete card: %v", err)
	}
	third, err := svc.GetRankedOffers(ctx, userID, "prod-1")
	if err != nil {
		t.Fatalf("Failed to rank: %v", err)
	}
	if third.RankedOffers[0].CardBonusValue.IsPositive() {
		t.Errorf("Expected no card bonus after the card was deleted")
	}
}

func TestGetRankedOffers_CacheDisabledByFlag(t *testing.T) {
	c := &countingCache{InMemoryCache: cache.NewInMemoryCache(0)}
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{
		Cache:    c,
		CacheTTL: time.Minute,
		Features: features.NewDefaultManager(false, false, true),
		Workers:  4,
	})

	resp, err := svc.RankOffers(context.Background(), testOffers(), models.UserState{})
	if err != nil {
		t.Fatalf("Failed to rank: %v", err)
	}
	if c.gets.Load() != 0 || c.sets.Load() != 0 {
		t.Errorf("Expected cache to be bypassed")
	}
	if resp.RankedOffers[0].Rank != 1 || resp.RankedOffers[1].Rank != 2 {
		t.Errorf("Expected ranks to be assigned by the parallel path")
	}
}

func TestReplaceProductOffers_ProductMismatch(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})

	offers := testOffers()
	offers[1].ProductID = "other"

	_, err := svc.ReplaceProductOffers(context.Background(), "prod-1", offers)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) || verr.Field != "product_id" {
		t.Fatalf("Expected product_id validation error, got %v", err)
	}
}

func TestReplaceProductOffers_ReplacesAndKeepsOrder(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})
	ctx := context.Background()

	if _, err := svc.ReplaceProductOffers(ctx, "prod-1", testOffers()); err != nil {
		t.Fatalf("Failed to store offers: %v", err)
	}

	reversed := testOffers()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	reversed = reversed[:1]
	if _, err := svc.ReplaceProductOffers(ctx, "prod-1", reversed); err != nil {
		t.Fatalf("Failed to replace offers: %v", err)
	}

	resp, err := svc.GetProductOffers(ctx, "prod-1")
	if err != nil {
		t.Fatalf("Failed to get offers: %v", err)
	}
	if len(resp.Offers) != 1 || resp.Offers[0].ID != "amazon-1" {
		t.Errorf("Expected only amazon-1 after replace, got %+v", resp.Offers)
	}
}

func TestReplaceProductOffers_IDOwnedByOtherProduct(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})
	ctx := context.Background()

	if _, err := svc.ReplaceProductOffers(ctx, "product-a", testOffers()); err != nil {
		t.Fatalf("Failed to store offers: %v", err)
	}

	_, err := svc.ReplaceProductOffers(ctx, "product-b", testOffers()[:1])
	var verr *validation.ValidationError
	if !errors.As(err, &verr) || verr.Field != "id" {
		t.Fatalf("Expected id validation error, got %v", err)
	}

	resp, err := svc.GetRankedOffers(ctx, uuid.New().String(), "product-a")
	if err != nil {
		t.Fatalf("Failed to rank: %v", err)
	}
	if len(resp.RankedOffers) != 2 {
		t.Errorf("Expected product-a to keep both offers, got %d", len(resp.RankedOffers))
	}
}

func TestUpsertCard(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})
	ctx := context.Background()

	card := hdfcCard("")
	card.ID = ""
	stored, err := svc.UpsertCard(ctx, "user-1", card)
	if err != nil {
		t.Fatalf("Failed to store card: %v", err)
	}
	if _, err := uuid.Parse(stored.ID); err != nil {
		t.Errorf("Expected generated uuid, got %q", stored.ID)
	}
	if stored.UserID != "user-1" {
		t.Errorf("Expected user id from path, got %q", stored.UserID)
	}

	if _, err := svc.UpsertCard(ctx, "user-1", hdfcCard("user-2")); err == nil {
		t.Error("Expected error when body user id differs from path")
	}

	// Same card id under another user is not theirs to update.
	other := hdfcCard("")
	other.ID = stored.ID
	if _, err := svc.UpsertCard(ctx, "user-2", other); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign card id, got %v", err)
	}
}

func TestDeleteCard_NotFound(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})

	err := svc.DeleteCard(context.Background(), "user-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpsertRewardGoal_References(t *testing.T) {
	svc := NewService(setupTestDB(t), ranking.NewEngine(ranking.DefaultOptions()), Options{})
	ctx := context.Background()

	goal := models.RewardGoal{
		Description: "Reach the next HDFC milestone",
		TargetType:  models.GoalPointsMilestoneCard,
		TargetValue: decimal.NewFromInt(10000),
		CardIDRef:   "card-hdfc",
		IsActive:    true,
	}

	_, err := svc.UpsertRewardGoal(ctx, "user-1", goal)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) || verr.Field != "card_id_ref" {
		t.Fatalf("Expected card_id_ref error before the card exists, got %v", err)
	}

	if _, err := svc.UpsertCard(ctx, "user-1", hdfcCard("")); err != nil {
		t.Fatalf("Failed to store card: %v", err)
	}
	stored, err := svc.UpsertRewardGoal(ctx, "user-1", goal)
	if err != nil {
		t.Fatalf("Failed to store goal: %v", err)
	}

	program := models.LoyaltyProgram{ProgramName: "Flipkart SuperCoins", CurrentPoints: decimal.NewFromInt(120)}
	if _, err := svc.UpsertLoyaltyProgram(ctx, "user-1", program); err != nil {
		t.Fatalf("Failed to store program: %v", err)
	}

	state, err := svc.GetUserState(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to get state: %v", err)
	}
	if len(state.Cards) != 1 || len(state.LoyaltyPrograms) != 1 || len(state.RewardGoals) != 1 {
		t.Fatalf("Unexpected state: %+v", state)
	}
	if state.RewardGoals[0].ID != stored.ID {
		t.Errorf("Expected stored goal id %s, got %s", stored.ID, state.RewardGoals[0].ID)
	}
}
