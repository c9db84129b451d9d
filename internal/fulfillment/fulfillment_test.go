package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recargaspacuba/topup/internal/model"
	"github.com/recargaspacuba/topup/internal/store"
)

func newPaidOrder(t *testing.T, s store.Store) (model.Order, model.OrderChange) {
	t.Helper()
	ctx := context.Background()

	order, err := s.OrderCreate(ctx, model.Order{
		UID:        "user-1",
		ProductID:  "cubacel-20",
		Destino:    "+5353712345",
		Amount:     decimal.RequireFromString("20.84"),
		Currency:   "EUR",
		Channel:    model.ChannelSandbox,
		Status:     model.OrderStatusPending,
		AuthSource: model.AuthSourceToken,
	})
	require.NoError(t, err)

	paid, err := s.OrderTransition(ctx, order.ID, func(cur model.Order) (*store.Transition, error) {
		upd := cur
		upd.Status = model.OrderStatusPaid
		return &store.Transition{Update: upd, EventType: model.EventPaidStub}, nil
	})
	require.NoError(t, err)

	return paid, model.OrderChange{Before: order, After: paid}
}

func TestHandleFulfillsPaidOrder(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	order, change := newPaidOrder(t, s)
	sync.Handle(ctx, change)

	got, err := s.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCompleted, got.Status)
	require.False(t, got.FulfilledAt.IsZero())

	recarga, err := s.RecargaGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.RecargaStatusCompleted, recarga.Status)
	require.Equal(t, order.Destino, recarga.Destino)
	require.Equal(t, "20.84", recarga.Amount.StringFixed(2))
}

func TestHandleDoubleDelivery(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	order, change := newPaidOrder(t, s)
	sync.Handle(ctx, change)
	sync.Handle(ctx, change) // redelivered notification

	got, err := s.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusCompleted, got.Status)

	events, err := s.OrderEvents(ctx, order.ID)
	require.NoError(t, err)

	var completed int
	for _, event := range events {
		if event.Type == model.EventCompleted {
			completed++
		}
	}
	require.Equal(t, 1, completed)
}

func TestHandleIgnoresOtherTransitions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	order, change := newPaidOrder(t, s)

	// not the PENDING -> PAID edge
	sync.Handle(ctx, model.OrderChange{Before: change.After, After: change.After})

	got, err := s.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, got.Status)
	_, err = s.RecargaGet(ctx, order.ID)
	require.ErrorIs(t, err, store.ErrNoRows)
}

func TestHandleIgnoresOtherChannels(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	order, err := s.OrderCreate(ctx, model.Order{
		UID:     "user-1",
		Channel: "production",
		Status:  model.OrderStatusPending,
	})
	require.NoError(t, err)

	paid := order
	paid.Status = model.OrderStatusPaid
	sync.Handle(ctx, model.OrderChange{Before: order, After: paid})

	got, err := s.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, got.Status)
}

func TestHandleLosesRaceToManualTransition(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	order, change := newPaidOrder(t, s)

	// a refund commits between the notification and the sync transaction
	_, err := s.OrderTransition(ctx, order.ID, func(cur model.Order) (*store.Transition, error) {
		upd := cur
		upd.Status = model.OrderStatusRefunded
		return &store.Transition{Update: upd, EventType: model.EventRefunded}, nil
	})
	require.NoError(t, err)

	sync.Handle(ctx, change)

	got, err := s.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusRefunded, got.Status)
}

func TestRunConsumesChangeStream(t *testing.T) {
	s := store.NewMemStore()
	sync := NewSynchronizer(s, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sync.Run(ctx)

	order, _ := newPaidOrder(t, s) // transition publishes to the stream

	require.Eventually(t, func() bool {
		got, err := s.OrderGet(context.Background(), order.ID)
		return err == nil && got.Status == model.OrderStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
