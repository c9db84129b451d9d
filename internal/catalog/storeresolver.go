package catalog

import (
	"context"
	"errors"

	"github.com/recargaspacuba/topup/internal/model"
	"github.com/recargaspacuba/topup/internal/store"
)

// StoreResolver looks products up in the catalog table.
type StoreResolver struct {
	store store.Store
}

func NewStoreResolver(s store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

func (r *StoreResolver) Resolve(ctx context.Context, productID string) (model.Product, error) {
	product, err := r.store.CatalogGet(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Product{}, ErrUnknownProduct
		}
		return model.Product{}, err
	}
	if !product.Published {
		return model.Product{}, ErrNotPublished
	}
	return product, nil
}
