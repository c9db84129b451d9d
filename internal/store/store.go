package store

import (
	"context"
	"errors"

	"github.com/recargaspacuba/topup/internal/model"
)

// TransitionFunc inspects the live order row inside the transaction and
// decides the transition. Returning nil with a nil error commits nothing
// (idempotent observation). Returning an error aborts the transaction.
type TransitionFunc func(cur model.Order) (*Transition, error)

// Transition is an executed status change: the updated order row, the audit
// event type, and an optional recarga upsert. All three are committed as one
// atomic unit; the event's remaining fields are filled from the order rows.
type Transition struct {
	Update    model.Order
	EventType string
	Recarga   *model.Recarga
}

type Store interface {
	OrderCreate(ctx context.Context, order model.Order) (model.Order, error)
	OrderGet(ctx context.Context, orderID string) (model.Order, error)
	OrderList(ctx context.Context, uid string) ([]model.Order, error)
	OrderTransition(ctx context.Context, orderID string, guard TransitionFunc) (model.Order, error)
	OrderEvents(ctx context.Context, orderID string) ([]model.OrderEvent, error)
	RecargaGet(ctx context.Context, orderID string) (model.Recarga, error)
	RecargaUpsert(ctx context.Context, recarga model.Recarga) error
	CatalogGet(ctx context.Context, productID string) (model.Product, error)
	CatalogUpsert(ctx context.Context, product model.Product) error
	Changes() <-chan model.OrderChange
	Close() error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
)

const changesBuffer = 256

// publishChange hands a committed before/after snapshot to the change
// stream. When the buffer is full the send moves to its own goroutine so a
// slow consumer never blocks the committing request. Overflow sends may
// arrive out of order relative to each other, and linger until the consumer
// drains the channel; the fulfillment consumer tolerates both, since it
// re-reads the live row inside its own transaction and treats every
// delivery as at-least-once.
func publishChange(ch chan model.OrderChange, change model.OrderChange) {
	select {
	case ch <- change:
	default:
		go func() { ch <- change }()
	}
}
