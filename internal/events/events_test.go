package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"offer-ranking-api/internal/logger"
	"offer-ranking-api/internal/models"
)

func TestManager_PublishAndFlush(t *testing.T) {
	m := NewManager(true, logger.Discard())

	var calls atomic.Int32
	var got CardDeletedData
	m.Subscribe(EventCardDeleted, func(ctx context.Context, e Event) error {
		got = e.Data.(CardDeletedData)
		calls.Add(1)
		return nil
	})
	m.Subscribe(EventCardDeleted, func(ctx context.Context, e Event) error {
		calls.Add(1)
		return errors.New("boom")
	})

	m.PublishCardDeleted(context.Background(), "user-1", "card-1")
	m.Flush()

	if calls.Load() != 2 {
		t.Errorf("Expected 2 handler calls, got %d", calls.Load())
	}
	if got.UserID != "user-1" || got.CardID != "card-1" {
		t.Errorf("Unexpected payload: %+v", got)
	}
}

func TestManager_HandlerSurvivesCancelledContext(t *testing.T) {
	m := NewManager(true, logger.Discard())

	var ctxErr error
	m.Subscribe(EventOffersReplaced, func(ctx context.Context, e Event) error {
		ctxErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.PublishOffersReplaced(ctx, "p-1", 3)
	m.Flush()

	if ctxErr != nil {
		t.Errorf("Expected handler context to be live, got %v", ctxErr)
	}
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(false, logger.Discard())

	called := false
	m.SubscribeAll(func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	m.PublishCardUpserted(context.Background(), models.UserCard{ID: "c", UserID: "u"})
	m.Flush()

	if called {
		t.Error("Expected disabled manager to drop events")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(true, logger.Discard())

	var calls atomic.Int32
	m.SubscribeAll(func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	m.PublishRankingCompleted(context.Background(), RankingCompletedData{OfferCount: 1})
	m.Shutdown()
	m.PublishRankingCompleted(context.Background(), RankingCompletedData{OfferCount: 1})
	m.Flush()

	if calls.Load() != 1 {
		t.Errorf("Expected 1 call before shutdown, got %d", calls.Load())
	}
}
