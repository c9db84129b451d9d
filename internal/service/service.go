package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/recargaspacuba/topup/internal/auth"
	"github.com/recargaspacuba/topup/internal/catalog"
	"github.com/recargaspacuba/topup/internal/destino"
	"github.com/recargaspacuba/topup/internal/model"
	"github.com/recargaspacuba/topup/internal/store"
)

// Service is the order state machine. Every status change goes through
// store.OrderTransition so the guard runs against the live row.
type Service interface {
	CreateOrder(ctx context.Context, identity auth.Identity, productID string, rawDestino string) (CreateResult, error)
	MarkPaid(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error)
	MarkFailed(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error)
	MarkCancelled(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error)
	MarkRefunded(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error)
	ListOrders(ctx context.Context, identity auth.Identity) ([]model.Order, error)
}

var (
	ErrInvalidUID           = errors.New("invalid uid")
	ErrInvalidProductID     = errors.New("invalid product id")
	ErrInvalidProductAmount = errors.New("invalid product amount")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrOrderNotFound        = errors.New("order not found")
	ErrForbidden            = errors.New("forbidden")
	ErrChannelNotAllowed    = errors.New("channel not allowed")
	ErrInvalidStatus        = errors.New("invalid status")
)

const (
	maxUIDLen       = 128
	maxProductIDLen = 64
)

type CreateResult struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

type MarkResult struct {
	OrderID string
	Status  string
	// Already: the order was found in the target state, nothing was mutated.
	Already bool
	// Terminal: the order sits in a state this request cannot override,
	// reported as success without mutation.
	Terminal bool
	// RecargaSynced: the fulfillment record reflects the refund.
	RecargaSynced bool
}

type service struct {
	store    store.Store
	products catalog.Resolver
	zaplog   *zap.Logger
}

func NewService(store store.Store, products catalog.Resolver, zaplog *zap.Logger) Service {
	return &service{
		store:    store,
		products: products,
		zaplog:   zaplog,
	}
}

// CreateOrder validates everything server-side and persists a PENDING order.
// The amount is always recomputed from the catalog, never taken from the
// client.
func (service *service) CreateOrder(ctx context.Context, identity auth.Identity, productID string, rawDestino string) (CreateResult, error) {
	uid := identity.UID
	if uid == "" || len(uid) > maxUIDLen {
		return CreateResult{}, ErrInvalidUID
	}

	productID = strings.ToLower(strings.TrimSpace(productID))
	if productID == "" || len(productID) > maxProductIDLen {
		return CreateResult{}, ErrInvalidProductID
	}

	product, err := service.products.Resolve(ctx, productID)
	if err != nil {
		return CreateResult{}, err
	}

	normalized, err := destino.Normalize(catalog.Kind(product), rawDestino)
	if err != nil {
		return CreateResult{}, err
	}

	amount := catalog.SellPrice(product)
	if !amount.IsPositive() {
		return CreateResult{}, ErrInvalidProductAmount
	}

	currency := product.Currency
	if currency == "" {
		currency = catalog.Currency
	}

	order := model.Order{
		UID:        uid,
		ProductID:  product.ID,
		Destino:    normalized,
		Amount:     amount,
		Currency:   currency,
		Channel:    model.ChannelSandbox,
		Status:     model.OrderStatusPending,
		AuthSource: identity.Source,
	}

	order, err = service.store.OrderCreate(ctx, order)
	if err != nil {
		return CreateResult{}, err
	}

	service.zaplog.Info("createOrder OK",
		zap.String("orderId", order.ID),
		zap.String("uid", uid),
		zap.String("productId", order.ProductID),
		zap.String("authSource", order.AuthSource),
	)

	return CreateResult{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   order.Status,
	}, nil
}

// checkAccess guards every mark-* operation: sandbox channel first, then
// ownership. Both fail closed before any status is inspected.
func checkAccess(cur model.Order, identity auth.Identity) error {
	if cur.Channel != model.ChannelSandbox {
		return ErrChannelNotAllowed
	}
	if cur.UID != identity.UID {
		return ErrForbidden
	}
	return nil
}

func (service *service) markPrecheck(identity auth.Identity, orderID string) error {
	if identity.UID == "" || len(identity.UID) > maxUIDLen {
		return ErrInvalidUID
	}
	if orderID == "" {
		return ErrInvalidOrderID
	}
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNoRows) {
		return ErrOrderNotFound
	}
	return err
}

func (service *service) MarkPaid(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error) {
	if err := service.markPrecheck(identity, orderID); err != nil {
		return MarkResult{}, err
	}

	res := MarkResult{OrderID: orderID}
	updated, err := service.store.OrderTransition(ctx, orderID, func(cur model.Order) (*store.Transition, error) {
		if err := checkAccess(cur, identity); err != nil {
			return nil, err
		}
		switch cur.Status {
		case model.OrderStatusPaid, model.OrderStatusCompleted:
			res.Already = true
			return nil, nil
		case model.OrderStatusPending:
			updated := cur
			updated.Status = model.OrderStatusPaid
			updated.PaidAt = time.Now().UTC()
			return &store.Transition{Update: updated, EventType: model.EventPaidStub}, nil
		default:
			return nil, ErrInvalidStatus
		}
	})
	if err != nil {
		return MarkResult{}, mapStoreErr(err)
	}

	res.Status = updated.Status
	return res, nil
}

func (service *service) MarkFailed(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error) {
	if err := service.markPrecheck(identity, orderID); err != nil {
		return MarkResult{}, err
	}

	res := MarkResult{OrderID: orderID}
	updated, err := service.store.OrderTransition(ctx, orderID, func(cur model.Order) (*store.Transition, error) {
		if err := checkAccess(cur, identity); err != nil {
			return nil, err
		}
		switch cur.Status {
		case model.OrderStatusFailed:
			res.Already = true
			return nil, nil
		case model.OrderStatusPaid, model.OrderStatusCompleted:
			// failing a paid order is meaningless, not an error
			res.Terminal = true
			return nil, nil
		case model.OrderStatusPending:
			updated := cur
			updated.Status = model.OrderStatusFailed
			return &store.Transition{Update: updated, EventType: model.EventFailed}, nil
		default:
			return nil, ErrInvalidStatus
		}
	})
	if err != nil {
		return MarkResult{}, mapStoreErr(err)
	}

	res.Status = updated.Status
	return res, nil
}

func (service *service) MarkCancelled(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error) {
	if err := service.markPrecheck(identity, orderID); err != nil {
		return MarkResult{}, err
	}

	res := MarkResult{OrderID: orderID}
	updated, err := service.store.OrderTransition(ctx, orderID, func(cur model.Order) (*store.Transition, error) {
		if err := checkAccess(cur, identity); err != nil {
			return nil, err
		}
		switch cur.Status {
		case model.OrderStatusCancelled:
			res.Already = true
			return nil, nil
		case model.OrderStatusFailed, model.OrderStatusPaid, model.OrderStatusCompleted:
			res.Terminal = true
			return nil, nil
		case model.OrderStatusPending:
			updated := cur
			updated.Status = model.OrderStatusCancelled
			return &store.Transition{Update: updated, EventType: model.EventCancelled}, nil
		default:
			return nil, ErrInvalidStatus
		}
	})
	if err != nil {
		return MarkResult{}, mapStoreErr(err)
	}

	res.Status = updated.Status
	return res, nil
}

func (service *service) MarkRefunded(ctx context.Context, identity auth.Identity, orderID string) (MarkResult, error) {
	if err := service.markPrecheck(identity, orderID); err != nil {
		return MarkResult{}, err
	}

	res := MarkResult{OrderID: orderID}
	var executed bool
	updated, err := service.store.OrderTransition(ctx, orderID, func(cur model.Order) (*store.Transition, error) {
		if err := checkAccess(cur, identity); err != nil {
			return nil, err
		}
		switch cur.Status {
		case model.OrderStatusRefunded:
			res.Already = true
			return nil, nil
		case model.OrderStatusCancelled, model.OrderStatusFailed:
			// these can never be refunded
			res.Terminal = true
			return nil, nil
		case model.OrderStatusPaid, model.OrderStatusCompleted:
			now := time.Now().UTC()
			updated := cur
			updated.Status = model.OrderStatusRefunded
			updated.RefundedAt = now
			recarga := recargaFrom(cur, model.RecargaStatusRefunded, now)
			executed = true
			return &store.Transition{
				Update:    updated,
				EventType: model.EventRefunded,
				Recarga:   &recarga,
			}, nil
		default:
			return nil, ErrInvalidStatus
		}
	})
	if err != nil {
		return MarkResult{}, mapStoreErr(err)
	}

	res.Status = updated.Status
	if executed {
		res.RecargaSynced = true
	}
	if res.Already {
		// defensive re-sync: an earlier refund may have missed the recarga
		recarga := recargaFrom(updated, model.RecargaStatusRefunded, time.Now().UTC())
		if err := service.store.RecargaUpsert(ctx, recarga); err != nil {
			service.zaplog.Error("recarga re-sync failed",
				zap.String("orderId", orderID),
				zap.Error(err),
			)
		} else {
			res.RecargaSynced = true
		}
	}
	return res, nil
}

func recargaFrom(order model.Order, status string, now time.Time) model.Recarga {
	return model.Recarga{
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Destino:   order.Destino,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (service *service) ListOrders(ctx context.Context, identity auth.Identity) ([]model.Order, error) {
	if identity.UID == "" || len(identity.UID) > maxUIDLen {
		return nil, ErrInvalidUID
	}
	return service.store.OrderList(ctx, identity.UID)
}
