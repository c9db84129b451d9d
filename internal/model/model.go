package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Orders

type Order struct {
	ID          string
	UID         string
	ProductID   string
	Destino     string
	Amount      decimal.Decimal
	Currency    string
	Channel     string
	Status      string
	AuthSource  string
	CreatedAt   time.Time
	PaidAt      time.Time
	FulfilledAt time.Time
	RefundedAt  time.Time
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusFailed    = "FAILED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

const (
	ChannelSandbox = "sandbox"

	AuthSourceToken = "token"
	AuthSourceBody  = "body"
)

// Audit event. One row per executed transition, immutable once written.

type OrderEvent struct {
	ID         string
	OrderID    string
	Type       string
	StatusFrom string
	StatusTo   string
	UID        string
	Channel    string
	AuthSource string
	CreatedAt  time.Time
}

const (
	EventPaidStub  = "PAID_STUB"
	EventFailed    = "FAILED"
	EventCancelled = "CANCELLED"
	EventRefunded  = "REFUNDED"
	EventCompleted = "COMPLETED"
)

// Recarga: fulfillment record derived from a paid order, keyed 1:1 by order id.

type Recarga struct {
	OrderID   string
	ProductID string
	Destino   string
	Amount    decimal.Decimal
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	RecargaStatusCompleted = "COMPLETED"
	RecargaStatusRefunded  = "REFUNDED"
)

// Catalog product, read-only to the order flow.

type Product struct {
	ID        string
	Category  string
	BasePrice decimal.Decimal
	Currency  string
	Published bool
}

// OrderChange is the before/after snapshot pair published after a committed
// transition. Consumers must assume at-least-once delivery.
type OrderChange struct {
	Before Order
	After  Order
}
