package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/recargaspacuba/topup/internal/destino"
	"github.com/recargaspacuba/topup/internal/model"
	"github.com/shopspring/decimal"
)

// Resolver is the catalog lookup the order flow depends on. Two
// implementations exist: the static table and the store-backed one.
type Resolver interface {
	Resolve(ctx context.Context, productID string) (model.Product, error)
}

var (
	ErrUnknownProduct = errors.New("unknown product id")
	ErrNotPublished   = errors.New("product not published")
)

// Fixed margin added on top of the catalog base price.
var margin = decimal.RequireFromString("1.00")

const Currency = "EUR"

// SellPrice computes the server-side price: round2(base + margin).
func SellPrice(p model.Product) decimal.Decimal {
	return p.BasePrice.Add(margin).Round(2)
}

// Kind returns the destination kind: the explicit category when set,
// otherwise inferred from the product id prefix.
func Kind(p model.Product) string {
	if p.Category != "" {
		return p.Category
	}
	id := strings.ToLower(p.ID)
	switch {
	case strings.HasPrefix(id, "cubacel-"):
		return destino.KindCubacel
	case strings.HasPrefix(id, "nauta-"):
		return destino.KindNauta
	default:
		return ""
	}
}
