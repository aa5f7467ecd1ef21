package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"offer-ranking-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventOffersReplaced is emitted when a product's offer set is replaced
	EventOffersReplaced EventType = "offers.replaced"
	// EventCardUpserted is emitted when a card is created or updated
	EventCardUpserted EventType = "card.upserted"
	// EventCardDeleted is emitted when a card is removed
	EventCardDeleted EventType = "card.deleted"
	// EventRankingCompleted is emitted after every ranking
	EventRankingCompleted EventType = "ranking.completed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// Keyed is implemented by event payloads that carry a partitioning key.
type Keyed interface {
	EventKey() string
}

type OffersReplacedData struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
}

func (d OffersReplacedData) EventKey() string { return d.ProductID }

type CardUpsertedData struct {
	UserID string          `json:"user_id"`
	Card   models.UserCard `json:"card"`
}

func (d CardUpsertedData) EventKey() string { return d.UserID }

type CardDeletedData struct {
	UserID string `json:"user_id"`
	CardID string `json:"card_id"`
}

func (d CardDeletedData) EventKey() string { return d.UserID }

// RankingCompletedData summarizes one ranking. UserID and ProductID are
// empty for stateless rankings.
type RankingCompletedData struct {
	UserID     string          `json:"user_id,omitempty"`
	ProductID  string          `json:"product_id,omitempty"`
	OfferCount int             `json:"offer_count"`
	TopOfferID string          `json:"top_offer_id,omitempty"`
	TopScore   decimal.Decimal `json:"top_score"`
	CacheHit   bool            `json:"cache_hit"`
}

func (d RankingCompletedData) EventKey() string { return d.UserID }

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	log      logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log logrus.FieldLogger) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      log,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// SubscribeAll subscribes a handler to every event type.
func (m *Manager) SubscribeAll(handler Handler) {
	for _, t := range []EventType{EventOffersReplaced, EventCardUpserted, EventCardDeleted, EventRankingCompleted} {
		m.Subscribe(t, handler)
	}
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and outlive the caller's cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return
	}

	handlers := m.handlers[eventType]
	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(len(handlers))
	for _, handler := range handlers {
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				m.log.WithError(err).WithField("event", eventType).Warn("event handler failed")
			}
		}(handler)
	}
}

func (m *Manager) PublishOffersReplaced(ctx context.Context, productID string, count int) {
	m.Publish(ctx, EventOffersReplaced, OffersReplacedData{ProductID: productID, Count: count})
}

func (m *Manager) PublishCardUpserted(ctx context.Context, card models.UserCard) {
	m.Publish(ctx, EventCardUpserted, CardUpsertedData{UserID: card.UserID, Card: card})
}

func (m *Manager) PublishCardDeleted(ctx context.Context, userID, cardID string) {
	m.Publish(ctx, EventCardDeleted, CardDeletedData{UserID: userID, CardID: cardID})
}

func (m *Manager) PublishRankingCompleted(ctx context.Context, data RankingCompletedData) {
	m.Publish(ctx, EventRankingCompleted, data)
}

// Flush blocks until every handler started so far has returned.
func (m *Manager) Flush() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for in-flight handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
