package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recargaspacuba/topup/internal/model"
)

// memStore keeps everything in maps behind one mutex. Used by tests and
// emulator runs; the transition guard runs under the lock, which gives the
// same read-check-write atomicity the Postgres row lock does.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	events   map[string][]model.OrderEvent
	recargas map[string]model.Recarga
	catalog  map[string]model.Product
	changes  chan model.OrderChange
}

func NewMemStore() Store {
	return &memStore{
		orders:   map[string]model.Order{},
		events:   map[string][]model.OrderEvent{},
		recargas: map[string]model.Recarga{},
		catalog:  map[string]model.Product{},
		changes:  make(chan model.OrderChange, changesBuffer),
	}
}

func (store *memStore) OrderCreate(_ context.Context, order model.Order) (model.Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if _, ok := store.orders[order.ID]; ok {
		return model.Order{}, ErrAlreadyExists
	}
	store.orders[order.ID] = order
	return order, nil
}

func (store *memStore) OrderGet(_ context.Context, orderID string) (model.Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	order, ok := store.orders[orderID]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	return order, nil
}

func (store *memStore) OrderList(_ context.Context, uid string) ([]model.Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var orders []model.Order
	for _, order := range store.orders {
		if order.UID == uid {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (store *memStore) OrderTransition(_ context.Context, orderID string, guard TransitionFunc) (model.Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	cur, ok := store.orders[orderID]
	if !ok {
		return model.Order{}, ErrNoRows
	}

	transition, err := guard(cur)
	if err != nil {
		return cur, err
	}
	if transition == nil {
		return cur, nil
	}

	updated := transition.Update
	store.orders[orderID] = updated
	store.events[orderID] = append(store.events[orderID], newEvent(cur, updated, transition.EventType))
	if transition.Recarga != nil {
		store.upsertRecargaLocked(*transition.Recarga)
	}

	publishChange(store.changes, model.OrderChange{Before: cur, After: updated})
	return updated, nil
}

func (store *memStore) OrderEvents(_ context.Context, orderID string) ([]model.OrderEvent, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	events := make([]model.OrderEvent, len(store.events[orderID]))
	copy(events, store.events[orderID])
	return events, nil
}

func (store *memStore) upsertRecargaLocked(recarga model.Recarga) {
	if existing, ok := store.recargas[recarga.OrderID]; ok {
		existing.Status = recarga.Status
		existing.UpdatedAt = recarga.UpdatedAt
		store.recargas[recarga.OrderID] = existing
		return
	}
	store.recargas[recarga.OrderID] = recarga
}

func (store *memStore) RecargaGet(_ context.Context, orderID string) (model.Recarga, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	recarga, ok := store.recargas[orderID]
	if !ok {
		return model.Recarga{}, ErrNoRows
	}
	return recarga, nil
}

func (store *memStore) RecargaUpsert(_ context.Context, recarga model.Recarga) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.upsertRecargaLocked(recarga)
	return nil
}

func (store *memStore) CatalogGet(_ context.Context, productID string) (model.Product, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	product, ok := store.catalog[productID]
	if !ok {
		return model.Product{}, ErrNoRows
	}
	return product, nil
}

func (store *memStore) CatalogUpsert(_ context.Context, product model.Product) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.catalog[product.ID] = product
	return nil
}

func (store *memStore) Changes() <-chan model.OrderChange {
	return store.changes
}

func (store *memStore) Close() error {
	return nil
}
