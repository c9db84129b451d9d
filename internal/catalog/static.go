package catalog

import (
	"context"

	"github.com/recargaspacuba/topup/internal/model"
	"github.com/shopspring/decimal"
)

// StaticResolver serves the built-in product table. Base prices are the
// listed sell prices minus the fixed margin.
type StaticResolver struct {
	products map[string]model.Product
}

func NewStaticResolver() *StaticResolver {
	products := map[string]model.Product{}
	add := func(id, category, base string) {
		products[id] = model.Product{
			ID:        id,
			Category:  category,
			BasePrice: decimal.RequireFromString(base),
			Currency:  Currency,
			Published: true,
		}
	}

	// CUBACEL
	add("cubacel-10", "cubacel", "9.42")
	add("cubacel-20", "cubacel", "19.84")
	add("cubacel-25", "cubacel", "24.01")
	add("cubacel-30", "cubacel", "30.26")

	// NAUTA
	add("nauta-5", "nauta", "4.00")
	add("nauta-10", "nauta", "9.00")

	return &StaticResolver{products: products}
}

func (r *StaticResolver) Resolve(_ context.Context, productID string) (model.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return model.Product{}, ErrUnknownProduct
	}
	if !p.Published {
		return model.Product{}, ErrNotPublished
	}
	return p, nil
}
