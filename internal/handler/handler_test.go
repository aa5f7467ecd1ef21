package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"offer-ranking-api/internal/database"
	"offer-ranking-api/internal/models"
	"offer-ranking-api/internal/ranking"
	"offer-ranking-api/internal/service"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test_handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := service.NewService(db, ranking.NewEngine(ranking.DefaultOptions()), service.Options{})
	return NewHandler(svc)
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := do(t, r, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestFeatures(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := do(t, r, "PUT", "/features/parallel_scoring", map[string]bool{"enabled": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Features []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"features"`
	}
	rr = do(t, r, "GET", "/features", nil)
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	enabled := map[string]bool{}
	for _, f := range resp.Features {
		enabled[f.Name] = f.Enabled
	}
	if !enabled["parallel_scoring"] {
		t.Errorf("Expected parallel_scoring to be enabled, got %+v", resp.Features)
	}

	if rr := do(t, r, "PUT", "/features/nope", map[string]bool{"enabled": true}); rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown flag, got %d", rr.Code)
	}
	if rr := do(t, r, "PUT", "/features/parallel_scoring", map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without enabled, got %d", rr.Code)
	}
}

func TestRankOffers_Success(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := models.RankOffersRequest{
		Offers: []models.Offer{
			{ID: "plain", ProductName: "Kettle", Platform: "Croma", BasePrice: decimal.NewFromInt(2000)},
			{ID: "coupon", ProductName: "Kettle", Platform: "Amazon.in", BasePrice: decimal.NewFromInt(2100), CouponValue: amount("300")},
		},
		UserState: models.UserState{
			RewardGoals: []models.RewardGoal{{ID: "g1", Description: "Save more", TargetType: models.GoalMonetarySavingsMonthly, TargetValue: decimal.NewFromInt(1000)}},
		},
	}

	rr := do(t, r, "POST", "/rankings", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var resp models.RankedOffersResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(resp.RankedOffers) != 2 || resp.RankedOffers[0].ID != "coupon" {
		t.Fatalf("Expected coupon offer first, got %+v", resp.RankedOffers)
	}
	if got := resp.RankedOffers[0].RankingExplanation; len(got) != 1 || got[0] != "₹300.00 off with coupon." {
		t.Errorf("Unexpected explanation: %v", got)
	}
	if got := resp.RankedOffers[1].RankingExplanation; len(got) != 1 || got[0] != ranking.FallbackExplanation {
		t.Errorf("Expected fallback explanation, got %v", got)
	}
	if len(resp.RewardGoals) != 1 {
		t.Errorf("Expected reward goals to pass through")
	}
}

func TestRankOffers_InvalidJSON(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := httptest.NewRequest("POST", "/rankings", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestRankOffers_EmptyBody(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := httptest.NewRequest("POST", "/rankings", strings.NewReader(""))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var resp models.ErrorResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusBadRequest || resp.Error != "request body is required" {
		t.Errorf("Expected 400 'request body is required', got %d %q", rr.Code, resp.Error)
	}
}

func TestRankOffers_ValidationError(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := models.RankOffersRequest{
		Offers: []models.Offer{{ID: "bad", ProductName: "Kettle", Platform: "Croma", BasePrice: decimal.NewFromInt(-5)}},
	}

	rr := do(t, r, "POST", "/rankings", req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestRankOffers_BodyTooLarge(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test_handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	svc := service.NewService(db, ranking.NewEngine(ranking.DefaultOptions()), service.Options{})
	r := setupRouter(NewHandlerWithOptions(svc, NewHandlerOptions{MaxBodySize: 16}))

	rr := do(t, r, "POST", "/rankings", models.RankOffersRequest{Offers: []models.Offer{{ID: "x"}}})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestWalletAndRankedOffersFlow(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	userID := uuid.New().String()

	offers := models.ReplaceOffersRequest{Offers: []models.Offer{
		{ID: "flipkart", ProductName: "Phone", Platform: "Flipkart", BasePrice: decimal.NewFromInt(30000), CouponValue: amount("1000")},
		{ID: "amazon", ProductName: "Phone", Platform: "Amazon.in", BasePrice: decimal.NewFromInt(30000), CardSpecificBonusPercentage: amount("10"), RequiredCardType: "ICICI Amazon Pay"},
	}}
	rr := do(t, r, "PUT", "/products/phone-1/offers", offers)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	card := models.UserCard{ID: "icici", Bank: "ICICI", CardType: "Amazon Pay", Last4Digits: "4242"}
	rr = do(t, r, "POST", "/users/"+userID+"/cards", card)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, r, "GET", "/users/"+userID+"/products/phone-1/ranked-offers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var resp models.RankedOffersResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	top := resp.RankedOffers[0]
	if top.ID != "amazon" || !top.CardBonusValue.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Expected amazon first with 3000 card bonus, got %s with %s", top.ID, top.CardBonusValue)
	}
	if top.BestCardID != "icici" {
		t.Errorf("Expected best card icici, got %q", top.BestCardID)
	}

	rr = do(t, r, "GET", "/users/"+userID+"/cards", nil)
	var cards models.CardsResponse
	json.NewDecoder(rr.Body).Decode(&cards)
	if len(cards.Cards) != 1 || cards.Cards[0].Last4Digits != "4242" {
		t.Errorf("Unexpected cards: %+v", cards.Cards)
	}

	rr = do(t, r, "DELETE", "/users/"+userID+"/cards/icici", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}

	rr = do(t, r, "DELETE", "/users/"+userID+"/cards/icici", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", rr.Code)
	}
}

func TestUserState(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	userID := uuid.New().String()

	program := models.LoyaltyProgram{ProgramName: "Flipkart SuperCoins", CurrentPoints: decimal.NewFromInt(320)}
	rr := do(t, r, "POST", "/users/"+userID+"/loyalty-programs", program)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	goal := models.RewardGoal{Description: "Save 2000 a month", TargetType: models.GoalMonetarySavingsMonthly, TargetValue: decimal.NewFromInt(2000), IsActive: true}
	rr = do(t, r, "POST", "/users/"+userID+"/reward-goals", goal)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	badGoal := goal
	badGoal.TargetType = "points_milestone_card"
	rr = do(t, r, "POST", "/users/"+userID+"/reward-goals", badGoal)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for goal without card ref, got %d", rr.Code)
	}

	rr = do(t, r, "GET", "/users/"+userID+"/state", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var state models.UserState
	if err := json.NewDecoder(rr.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if len(state.Cards) != 0 || len(state.LoyaltyPrograms) != 1 || len(state.RewardGoals) != 1 {
		t.Errorf("Unexpected state: %+v", state)
	}
}

func TestGetProductOffers_Empty(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := do(t, r, "GET", "/products/unknown/offers", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp models.ProductOffersResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.ProductID != "unknown" || len(resp.Offers) != 0 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}
