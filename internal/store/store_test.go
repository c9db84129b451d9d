package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/recargaspacuba/topup/internal/model"
)

func newTestOrder() model.Order {
	return model.Order{
		UID:        "user-1",
		ProductID:  "cubacel-20",
		Destino:    "+5353712345",
		Amount:     decimal.RequireFromString("20.84"),
		Currency:   "EUR",
		Channel:    model.ChannelSandbox,
		Status:     model.OrderStatusPending,
		AuthSource: model.AuthSourceToken,
	}
}

func TestOrderCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.False(t, order.CreatedAt.IsZero())

	got, err := store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order, got)

	_, err = store.OrderGet(ctx, "missing")
	require.ErrorIs(t, err, ErrNoRows)
}

func TestOrderList(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := newTestOrder()
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	first, err := store.OrderCreate(ctx, first)
	require.NoError(t, err)
	second, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)

	other := newTestOrder()
	other.UID = "user-2"
	_, err = store.OrderCreate(ctx, other)
	require.NoError(t, err)

	orders, err := store.OrderList(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, first.ID, orders[0].ID)
	require.Equal(t, second.ID, orders[1].ID)
}

func TestOrderTransitionExecuted(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)

	updated, err := store.OrderTransition(ctx, order.ID, func(cur model.Order) (*Transition, error) {
		require.Equal(t, model.OrderStatusPending, cur.Status)
		upd := cur
		upd.Status = model.OrderStatusPaid
		upd.PaidAt = time.Now().UTC()
		return &Transition{Update: upd, EventType: model.EventPaidStub}, nil
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, updated.Status)

	got, err := store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, got.Status)

	events, err := store.OrderEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.EventPaidStub, events[0].Type)
	require.Equal(t, model.OrderStatusPending, events[0].StatusFrom)
	require.Equal(t, model.OrderStatusPaid, events[0].StatusTo)
	require.Equal(t, order.UID, events[0].UID)

	// the committed change is published
	select {
	case change := <-store.Changes():
		require.Equal(t, model.OrderStatusPending, change.Before.Status)
		require.Equal(t, model.OrderStatusPaid, change.After.Status)
	default:
		t.Fatal("no change published")
	}
}

func TestChangeStreamOverflowDeliversAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)

	// publish well past the channel buffer with nobody draining; every
	// committed change must still arrive once the consumer catches up
	const total = changesBuffer + 50
	for i := 0; i < total; i++ {
		_, err = store.OrderTransition(ctx, order.ID, func(cur model.Order) (*Transition, error) {
			upd := cur
			upd.Status = model.OrderStatusPaid
			return &Transition{Update: upd, EventType: model.EventPaidStub}, nil
		})
		require.NoError(t, err)
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < total {
		select {
		case <-store.Changes():
			received++
		case <-deadline:
			t.Fatalf("received %d of %d changes", received, total)
		}
	}
}

func TestOrderTransitionNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)

	live, err := store.OrderTransition(ctx, order.ID, func(cur model.Order) (*Transition, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, live.Status)

	events, err := store.OrderEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, events)

	select {
	case <-store.Changes():
		t.Fatal("no-op transition must not publish a change")
	default:
	}
}

func TestOrderTransitionGuardError(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order, err := store.OrderCreate(ctx, newTestOrder())
	require.NoError(t, err)

	guardErr := errors.New("guard says no")
	_, err = store.OrderTransition(ctx, order.ID, func(cur model.Order) (*Transition, error) {
		return nil, guardErr
	})
	require.ErrorIs(t, err, guardErr)

	got, err := store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPending, got.Status)

	events, err := store.OrderEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestOrderTransitionUnknownOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.OrderTransition(ctx, "missing", func(cur model.Order) (*Transition, error) {
		t.Fatal("guard must not run for a missing order")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrNoRows)
}

func TestRecargaUpsertWithinTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	order := newTestOrder()
	order.Status = model.OrderStatusPaid
	order, err := store.OrderCreate(ctx, order)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = store.OrderTransition(ctx, order.ID, func(cur model.Order) (*Transition, error) {
		upd := cur
		upd.Status = model.OrderStatusCompleted
		upd.FulfilledAt = now
		return &Transition{
			Update:    upd,
			EventType: model.EventCompleted,
			Recarga: &model.Recarga{
				OrderID:   cur.ID,
				ProductID: cur.ProductID,
				Destino:   cur.Destino,
				Amount:    cur.Amount,
				Currency:  cur.Currency,
				Status:    model.RecargaStatusCompleted,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}, nil
	})
	require.NoError(t, err)

	recarga, err := store.RecargaGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.RecargaStatusCompleted, recarga.Status)
	require.Equal(t, order.Destino, recarga.Destino)

	// an upsert keeps the original creation stamp
	later := now.Add(time.Minute)
	err = store.RecargaUpsert(ctx, model.Recarga{
		OrderID:   order.ID,
		Status:    model.RecargaStatusRefunded,
		CreatedAt: later,
		UpdatedAt: later,
	})
	require.NoError(t, err)

	recarga, err = store.RecargaGet(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, model.RecargaStatusRefunded, recarga.Status)
	require.Equal(t, now, recarga.CreatedAt)
	require.Equal(t, later, recarga.UpdatedAt)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	product := model.Product{
		ID:        "cubacel-10",
		Category:  "cubacel",
		BasePrice: decimal.RequireFromString("9.42"),
		Currency:  "EUR",
		Published: true,
	}
	require.NoError(t, store.CatalogUpsert(ctx, product))

	got, err := store.CatalogGet(ctx, "cubacel-10")
	require.NoError(t, err)
	require.Equal(t, product, got)

	_, err = store.CatalogGet(ctx, "missing")
	require.ErrorIs(t, err, ErrNoRows)
}
