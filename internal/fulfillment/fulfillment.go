package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/recargaspacuba/topup/internal/model"
	"github.com/recargaspacuba/topup/internal/store"
)

// Synchronizer consumes the order change stream and turns the PENDING→PAID
// transition into a recarga plus the PAID→COMPLETED advance. It is the only
// writer of COMPLETED. Delivery is at-least-once: the fulfilled-at marker and
// the in-transaction status re-check make replays no-ops.
type Synchronizer struct {
	store  store.Store
	zaplog *zap.Logger
}

func NewSynchronizer(store store.Store, zaplog *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store:  store,
		zaplog: zaplog,
	}
}

// Run blocks consuming changes until ctx is cancelled.
func (sync *Synchronizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-sync.store.Changes():
			sync.Handle(ctx, change)
		}
	}
}

// Handle processes one change notification.
func (sync *Synchronizer) Handle(ctx context.Context, change model.OrderChange) {
	after := change.After
	if after.Channel != model.ChannelSandbox {
		return
	}
	if change.Before.Status != model.OrderStatusPending || after.Status != model.OrderStatusPaid {
		return
	}
	if !after.FulfilledAt.IsZero() {
		return
	}

	var executed bool
	updated, err := sync.store.OrderTransition(ctx, after.ID, func(cur model.Order) (*store.Transition, error) {
		// re-check the live row: a concurrent transition or a replayed
		// notification may already have moved the order on
		if cur.Status != model.OrderStatusPaid || !cur.FulfilledAt.IsZero() {
			return nil, nil
		}
		now := time.Now().UTC()
		updated := cur
		updated.Status = model.OrderStatusCompleted
		updated.FulfilledAt = now
		recarga := model.Recarga{
			OrderID:   cur.ID,
			ProductID: cur.ProductID,
			Destino:   cur.Destino,
			Amount:    cur.Amount,
			Currency:  cur.Currency,
			Status:    model.RecargaStatusCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		executed = true
		return &store.Transition{
			Update:    updated,
			EventType: model.EventCompleted,
			Recarga:   &recarga,
		}, nil
	})
	if err != nil {
		// no caller to answer: log and rely on redelivery
		sync.zaplog.Error("fulfillment sync failed",
			zap.String("orderId", after.ID),
			zap.Error(err),
		)
		return
	}
	if executed {
		sync.zaplog.Info("order fulfilled",
			zap.String("orderId", after.ID),
			zap.String("destino", updated.Destino),
		)
	}
}
