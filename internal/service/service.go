package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"offer-ranking-api/internal/cache"
	"offer-ranking-api/internal/database"
	"offer-ranking-api/internal/events"
	"offer-ranking-api/internal/features"
	"offer-ranking-api/internal/logger"
	"offer-ranking-api/internal/models"
	"offer-ranking-api/internal/ranking"
	"offer-ranking-api/internal/tracing"
	"offer-ranking-api/internal/validation"
)

// ErrNotFound is returned when a referenced card does not exist.
var ErrNotFound = database.ErrNotFound

// Options holds the optional collaborators of a Service. Nil members
// disable the corresponding behavior.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   *events.Manager
	Features *features.Manager
	Tracer   *tracing.Tracer
	Logger   logrus.FieldLogger
	Workers  int // pool size for parallel scoring
}

// Service provides business logic for the offer ranking API.
type Service struct {
	db       *database.DB
	engine   *ranking.Engine
	cache    cache.Cache
	cacheTTL time.Duration
	events   *events.Manager
	features *features.Manager
	tracer   *tracing.Tracer
	log      logrus.FieldLogger
	workers  int
}

// NewService creates a new service instance.
func NewService(db *database.DB, engine *ranking.Engine, opts Options) *Service {
	s := &Service{
		db:       db,
		engine:   engine,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		events:   opts.Events,
		features: opts.Features,
		tracer:   opts.Tracer,
		log:      opts.Logger,
		workers:  opts.Workers,
	}

	if s.features == nil {
		s.features = features.NewDefaultManager(s.cache != nil, s.events != nil, false)
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop()
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.workers <= 0 {
		s.workers = 1
	}

	return s
}

// RankOffers ranks request-supplied offers against a request-supplied user
// snapshot. Loyalty programs and goals are passed through untouched.
func (s *Service) RankOffers(ctx context.Context, offers []models.Offer, state models.UserState) (resp models.RankedOffersResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "service.RankOffers",
		attribute.Int("ranking.offers", len(offers)),
		attribute.Int("ranking.cards", len(state.Cards)),
	)
	defer func() { tracing.End(span, err) }()

	offers = sanitizeOffers(offers)
	if err := validation.ValidateOffers(offers); err != nil {
		return models.RankedOffersResponse{}, err
	}

	state.Cards = sanitizeCards(state.Cards)
	if err := validation.ValidateUserState(state); err != nil {
		return models.RankedOffersResponse{}, err
	}

	ranked, err := s.rank(ctx, "", "", offers, state)
	if err != nil {
		return models.RankedOffersResponse{}, err
	}

	return models.RankedOffersResponse{
		RankedOffers:    ranked,
		LoyaltyPrograms: state.LoyaltyPrograms,
		RewardGoals:     state.RewardGoals,
	}, nil
}

// GetRankedOffers ranks a stored product's offers against a user's stored
// wallet.
func (s *Service) GetRankedOffers(ctx context.Context, userID, productID string) (resp models.RankedOffersResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "service.GetRankedOffers",
		attribute.String("user.id", userID),
		attribute.String("product.id", productID),
	)
	defer func() { tracing.End(span, err) }()

	if err := validation.ValidateID(productID, "product_id"); err != nil {
		return models.RankedOffersResponse{}, err
	}

	state, err := s.GetUserState(ctx, userID)
	if err != nil {
		return models.RankedOffersResponse{}, err
	}

	offers, err := s.db.GetProductOffers(ctx, productID)
	if err != nil {
		return models.RankedOffersResponse{}, fmt.Errorf("failed to get offers: %w", err)
	}

	ranked, err := s.rank(ctx, userID, productID, offers, state)
	if err != nil {
		return models.RankedOffersResponse{}, err
	}

	return models.RankedOffersResponse{
		UserID:          userID,
		ProductID:       productID,
		RankedOffers:    ranked,
		LoyaltyPrograms: state.LoyaltyPrograms,
		RewardGoals:     state.RewardGoals,
	}, nil
}

// rank runs the engine, consulting the cache first when it is enabled.
func (s *Service) rank(ctx context.Context, userID, productID string, offers []models.Offer, state models.UserState) ([]models.RankedOffer, error) {
	log := s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"product_id": productID,
		"offers":     len(offers),
	})

	useCache := s.cache != nil && s.features.IsEnabled(features.FeatureCacheEnabled)

	var key string
	if useCache {
		var err error
		key, err = cache.RankingKey(offers, state.Cards, s.engine.Options().MinSpendForPerkConsideration)
		if err != nil {
			return nil, err
		}

		var cached []models.RankedOffer
		err = cache.GetJSON(ctx, s.cache, key, &cached)
		switch {
		case err == nil:
			log.WithField("cache_key", key).Debug("ranking served from cache")
			s.publishRanking(ctx, userID, productID, cached, true)
			return cached, nil
		case !errors.Is(err, cache.ErrNotFound):
			log.WithError(err).Warn("ranking cache read failed")
		}
	}

	var ranked []models.RankedOffer
	if s.features.IsEnabled(features.FeatureParallelScoring) {
		ranked = s.engine.RankParallel(offers, state, s.workers)
	} else {
		ranked = s.engine.Rank(offers, state)
	}

	if useCache {
		if err := cache.SetJSON(ctx, s.cache, key, ranked, s.cacheTTL); err != nil {
			log.WithError(err).Warn("ranking cache write failed")
		}
	}

	log.Debug("offers ranked")
	s.publishRanking(ctx, userID, productID, ranked, false)
	return ranked, nil
}

func (s *Service) publishRanking(ctx context.Context, userID, productID string, ranked []models.RankedOffer, hit bool) {
	if !s.eventsEnabled() {
		return
	}

	data := events.RankingCompletedData{
		UserID:     userID,
		ProductID:  productID,
		OfferCount: len(ranked),
		CacheHit:   hit,
	}
	if len(ranked) > 0 {
		data.TopOfferID = ranked[0].ID
		data.TopScore = ranked[0].CompositeScore
	}
	s.events.PublishRankingCompleted(ctx, data)
}

// ReplaceProductOffers stores the full candidate set of a product,
// replacing whatever was there.
func (s *Service) ReplaceProductOffers(ctx context.Context, productID string, offers []models.Offer) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "service.ReplaceProductOffers",
		attribute.String("product.id", productID),
		attribute.Int("ranking.offers", len(offers)),
	)
	defer func() { tracing.End(span, err) }()

	if err := validation.ValidateID(productID, "product_id"); err != nil {
		return 0, err
	}

	offers = sanitizeOffers(offers)
	for i := range offers {
		if offers[i].ProductID != "" && offers[i].ProductID != productID {
			return 0, &validation.ValidationError{
				Field:   "product_id",
				Message: fmt.Sprintf("offer %s belongs to product %s", offers[i].ID, offers[i].ProductID),
			}
		}
		offers[i].ProductID = productID
	}

	if err := validation.ValidateOffers(offers); err != nil {
		return 0, err
	}

	n, err = s.db.ReplaceProductOffers(ctx, productID, offers)
	if errors.Is(err, database.ErrConflict) {
		return 0, &validation.ValidationError{Field: "id", Message: err.Error()}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to store offers: %w", err)
	}

	s.log.WithFields(logrus.Fields{"product_id": productID, "offers": n}).Info("product offers replaced")
	if s.eventsEnabled() {
		s.events.PublishOffersReplaced(ctx, productID, n)
	}

	return n, nil
}

// GetProductOffers returns a product's stored offers in input order.
func (s *Service) GetProductOffers(ctx context.Context, productID string) (models.ProductOffersResponse, error) {
	if err := validation.ValidateID(productID, "product_id"); err != nil {
		return models.ProductOffersResponse{}, err
	}

	offers, err := s.db.GetProductOffers(ctx, productID)
	if err != nil {
		return models.ProductOffersResponse{}, fmt.Errorf("failed to get offers: %w", err)
	}

	return models.ProductOffersResponse{ProductID: productID, Offers: offers}, nil
}

// UpsertCard creates or updates a card in a user's wallet. A card without
// an id gets a generated one.
func (s *Service) UpsertCard(ctx context.Context, userID string, card models.UserCard) (models.UserCard, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.UserCard{}, err
	}

	validation.SanitizeCard(&card)
	if err := claim(&card.UserID, userID); err != nil {
		return models.UserCard{}, err
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}

	if err := validation.ValidateUserCard(card); err != nil {
		return models.UserCard{}, err
	}

	if err := s.db.UpsertCard(ctx, card); err != nil {
		return models.UserCard{}, fmt.Errorf("failed to store card: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "card_id": card.ID}).Info("card stored")
	if s.eventsEnabled() {
		s.events.PublishCardUpserted(ctx, card)
	}

	return card, nil
}

// ListCards returns a user's cards.
func (s *Service) ListCards(ctx context.Context, userID string) (models.CardsResponse, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.CardsResponse{}, err
	}

	cards, err := s.db.ListCards(ctx, userID)
	if err != nil {
		return models.CardsResponse{}, fmt.Errorf("failed to list cards: %w", err)
	}

	return models.CardsResponse{UserID: userID, Cards: cards}, nil
}

// DeleteCard removes a card from a user's wallet.
func (s *Service) DeleteCard(ctx context.Context, userID, cardID string) error {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return err
	}
	if err := validation.ValidateID(cardID, "card_id"); err != nil {
		return err
	}

	if err := s.db.DeleteCard(ctx, userID, cardID); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "card_id": cardID}).Info("card deleted")
	if s.eventsEnabled() {
		s.events.PublishCardDeleted(ctx, userID, cardID)
	}

	return nil
}

// UpsertLoyaltyProgram creates or updates one of a user's loyalty programs.
func (s *Service) UpsertLoyaltyProgram(ctx context.Context, userID string, program models.LoyaltyProgram) (models.LoyaltyProgram, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.LoyaltyProgram{}, err
	}

	program.ID = validation.SanitizeString(program.ID)
	program.ProgramName = validation.SanitizeString(program.ProgramName)
	program.NextTier = validation.SanitizeString(program.NextTier)
	program.NextTierBenefits = validation.SanitizeString(program.NextTierBenefits)
	if err := claim(&program.UserID, userID); err != nil {
		return models.LoyaltyProgram{}, err
	}
	if program.ID == "" {
		program.ID = uuid.NewString()
	}

	if err := validation.ValidateLoyaltyProgram(program); err != nil {
		return models.LoyaltyProgram{}, err
	}

	if err := s.db.UpsertLoyaltyProgram(ctx, program); err != nil {
		return models.LoyaltyProgram{}, fmt.Errorf("failed to store loyalty program: %w", err)
	}

	return program, nil
}

// UpsertRewardGoal creates or updates one of a user's reward goals. Card
// and program references must point at the user's own instruments.
func (s *Service) UpsertRewardGoal(ctx context.Context, userID string, goal models.RewardGoal) (models.RewardGoal, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.RewardGoal{}, err
	}

	goal.ID = validation.SanitizeString(goal.ID)
	goal.Description = validation.SanitizeString(goal.Description)
	goal.CardIDRef = validation.SanitizeString(goal.CardIDRef)
	goal.LoyaltyProgramIDRef = validation.SanitizeString(goal.LoyaltyProgramIDRef)
	if err := claim(&goal.UserID, userID); err != nil {
		return models.RewardGoal{}, err
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}

	if err := validation.ValidateRewardGoal(goal); err != nil {
		return models.RewardGoal{}, err
	}

	if err := s.checkGoalRefs(ctx, goal); err != nil {
		return models.RewardGoal{}, err
	}

	if err := s.db.UpsertRewardGoal(ctx, goal); err != nil {
		return models.RewardGoal{}, fmt.Errorf("failed to store reward goal: %w", err)
	}

	return goal, nil
}

func (s *Service) checkGoalRefs(ctx context.Context, goal models.RewardGoal) error {
	if goal.CardIDRef != "" {
		cards, err := s.db.ListCards(ctx, goal.UserID)
		if err != nil {
			return fmt.Errorf("failed to list cards: %w", err)
		}
		if !containsID(cards, goal.CardIDRef, func(c models.UserCard) string { return c.ID }) {
			return &validation.ValidationError{Field: "card_id_ref", Message: "unknown card"}
		}
	}

	if goal.LoyaltyProgramIDRef != "" {
		programs, err := s.db.ListLoyaltyPrograms(ctx, goal.UserID)
		if err != nil {
			return fmt.Errorf("failed to list loyalty programs: %w", err)
		}
		if !containsID(programs, goal.LoyaltyProgramIDRef, func(p models.LoyaltyProgram) string { return p.ID }) {
			return &validation.ValidationError{Field: "loyalty_program_id_ref", Message: "unknown loyalty program"}
		}
	}

	return nil
}

// GetUserState assembles a user's stored wallet into a ranking snapshot.
func (s *Service) GetUserState(ctx context.Context, userID string) (models.UserState, error) {
	if err := validation.ValidateID(userID, "user_id"); err != nil {
		return models.UserState{}, err
	}

	cards, err := s.db.ListCards(ctx, userID)
	if err != nil {
		return models.UserState{}, fmt.Errorf("failed to list cards: %w", err)
	}

	programs, err := s.db.ListLoyaltyPrograms(ctx, userID)
	if err != nil {
		return models.UserState{}, fmt.Errorf("failed to list loyalty programs: %w", err)
	}

	goals, err := s.db.ListRewardGoals(ctx, userID)
	if err != nil {
		return models.UserState{}, fmt.Errorf("failed to list reward goals: %w", err)
	}

	return models.UserState{
		Cards:           cards,
		LoyaltyPrograms: programs,
		RewardGoals:     goals,
	}, nil
}

// Features returns the flags the service consults on every call.
func (s *Service) Features() *features.Manager {
	return s.features
}

func (s *Service) eventsEnabled() bool {
	return s.events != nil && s.features.IsEnabled(features.FeatureEventHooksEnabled)
}

// claim sets an owner id from the path, rejecting a conflicting body value.
func claim(owner *string, userID string) error {
	if *owner != "" && *owner != userID {
		return &validation.ValidationError{
			Field:   "user_id",
			Message: "does not match the path",
		}
	}
	*owner = userID
	return nil
}

func sanitizeOffers(offers []models.Offer) []models.Offer {
	out := make([]models.Offer, len(offers))
	for i, offer := range offers {
		validation.SanitizeOffer(&offer)
		out[i] = offer
	}
	return out
}

func sanitizeCards(cards []models.UserCard) []models.UserCard {
	out := make([]models.UserCard, len(cards))
	for i, card := range cards {
		validation.SanitizeCard(&card)
		out[i] = card
	}
	return out
}

func containsID[T any](items []T, id string, idOf func(T) string) bool {
	for _, item := range items {
		if idOf(item) == id {
			return true
		}
	}
	return false
}
