package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/recargaspacuba/topup/internal/model"
	"github.com/recargaspacuba/topup/internal/store/config"
)

type pgStore struct {
	database *sql.DB
	changes  chan model.OrderChange
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Orders. One row per order, status mutated only through OrderTransition
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS orders (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" uid VARCHAR (128) NOT NULL," +
			" product_id VARCHAR (64) NOT NULL," +
			" destino VARCHAR (128) NOT NULL," +
			" amount NUMERIC (12, 2) NOT NULL," +
			" currency VARCHAR (3) NOT NULL," +
			" channel VARCHAR (16) NOT NULL," +
			" status VARCHAR (10) NOT NULL," +
			" auth_source VARCHAR (8) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" paid_at TIMESTAMP," +
			" fulfilled_at TIMESTAMP," +
			" refunded_at TIMESTAMP" +
			" );")
	if err != nil {
		return nil, err
	}

	// Audit events. Append-only, no UPDATE/DELETE statements exist for it
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS order_events (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" order_id VARCHAR (36) NOT NULL," +
			" event_type VARCHAR (16) NOT NULL," +
			" status_from VARCHAR (10) NOT NULL," +
			" status_to VARCHAR (10) NOT NULL," +
			" uid VARCHAR (128) NOT NULL," +
			" channel VARCHAR (16) NOT NULL," +
			" auth_source VARCHAR (8) NOT NULL," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Recargas, keyed 1:1 by order id
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS recargas (" +
			" order_id VARCHAR (36) PRIMARY KEY," +
			" product_id VARCHAR (64) NOT NULL," +
			" destino VARCHAR (128) NOT NULL," +
			" amount NUMERIC (12, 2) NOT NULL," +
			" currency VARCHAR (3) NOT NULL," +
			" status VARCHAR (10) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Catalog, read-only to the order flow
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS catalog (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" category VARCHAR (16) NOT NULL DEFAULT ''," +
			" base_price NUMERIC (12, 2) NOT NULL," +
			" currency VARCHAR (3) NOT NULL," +
			" published BOOLEAN NOT NULL DEFAULT TRUE" +
			" );")
	if err != nil {
		return nil, err
	}

	return &pgStore{
		database: db,
		changes:  make(chan model.OrderChange, changesBuffer),
	}, nil
}

const orderColumns = "id, uid, product_id, destino, amount, currency, channel, status," +
	" auth_source, created_at, paid_at, fulfilled_at, refunded_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		order       model.Order
		amount      string
		paidAt      sql.NullTime
		fulfilledAt sql.NullTime
		refundedAt  sql.NullTime
	)
	err := row.Scan(&order.ID,
		&order.UID,
		&order.ProductID,
		&order.Destino,
		&amount,
		&order.Currency,
		&order.Channel,
		&order.Status,
		&order.AuthSource,
		&order.CreatedAt,
		&paidAt,
		&fulfilledAt,
		&refundedAt)
	if err != nil {
		return model.Order{}, err
	}
	order.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return model.Order{}, err
	}
	order.PaidAt = paidAt.Time
	order.FulfilledAt = fulfilledAt.Time
	order.RefundedAt = refundedAt.Time
	return order, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (store *pgStore) OrderCreate(ctx context.Context, order model.Order) (model.Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err := store.database.ExecContext(ctx,
		"INSERT INTO orders (id, uid, product_id, destino, amount, currency, channel, status, auth_source, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		order.ID,
		order.UID,
		order.ProductID,
		order.Destino,
		order.Amount.StringFixed(2),
		order.Currency,
		order.Channel,
		order.Status,
		order.AuthSource,
		order.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Order{}, ErrAlreadyExists
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *pgStore) OrderGet(ctx context.Context, orderID string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1",
		orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *pgStore) OrderList(ctx context.Context, uid string) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE uid = $1 ORDER BY created_at",
		uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// OrderTransition re-reads the order under a row lock, runs the guard on the
// live row and commits the status update, the audit event and the optional
// recarga upsert as one transaction. A nil transition commits nothing.
func (store *pgStore) OrderTransition(ctx context.Context, orderID string, guard TransitionFunc) (model.Order, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE",
		orderID)
	cur, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}

	transition, err := guard(cur)
	if err != nil {
		return cur, err
	}
	if transition == nil {
		return cur, nil
	}

	updated := transition.Update
	_, err = tx.ExecContext(ctx,
		"UPDATE orders"+
			" SET status = $1, paid_at = $2, fulfilled_at = $3, refunded_at = $4"+
			" WHERE id = $5",
		updated.Status,
		nullTime(updated.PaidAt),
		nullTime(updated.FulfilledAt),
		nullTime(updated.RefundedAt),
		orderID)
	if err != nil {
		return cur, err
	}

	event := newEvent(cur, updated, transition.EventType)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO order_events (id, order_id, event_type, status_from, status_to, uid, channel, auth_source, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		event.ID,
		event.OrderID,
		event.Type,
		event.StatusFrom,
		event.StatusTo,
		event.UID,
		event.Channel,
		event.AuthSource,
		event.CreatedAt)
	if err != nil {
		return cur, err
	}

	if transition.Recarga != nil {
		if err := recargaUpsertTx(ctx, tx, *transition.Recarga); err != nil {
			return cur, err
		}
	}

	if err := tx.Commit(); err != nil {
		return cur, err
	}

	publishChange(store.changes, model.OrderChange{Before: cur, After: updated})
	return updated, nil
}

func newEvent(cur model.Order, updated model.Order, eventType string) model.OrderEvent {
	return model.OrderEvent{
		ID:         uuid.NewString(),
		OrderID:    cur.ID,
		Type:       eventType,
		StatusFrom: cur.Status,
		StatusTo:   updated.Status,
		UID:        cur.UID,
		Channel:    cur.Channel,
		AuthSource: cur.AuthSource,
		CreatedAt:  time.Now().UTC(),
	}
}

func (store *pgStore) OrderEvents(ctx context.Context, orderID string) ([]model.OrderEvent, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, order_id, event_type, status_from, status_to, uid, channel, auth_source, created_at"+
			" FROM order_events WHERE order_id = $1 ORDER BY created_at",
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.OrderEvent
	for rows.Next() {
		var event model.OrderEvent
		err := rows.Scan(&event.ID,
			&event.OrderID,
			&event.Type,
			&event.StatusFrom,
			&event.StatusTo,
			&event.UID,
			&event.Channel,
			&event.AuthSource,
			&event.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recargaUpsertTx(ctx context.Context, db execer, recarga model.Recarga) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO recargas (order_id, product_id, destino, amount, currency, status, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"+
			" ON CONFLICT (order_id) DO UPDATE"+
			" SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at",
		recarga.OrderID,
		recarga.ProductID,
		recarga.Destino,
		recarga.Amount.StringFixed(2),
		recarga.Currency,
		recarga.Status,
		recarga.CreatedAt,
		recarga.UpdatedAt)
	return err
}

func (store *pgStore) RecargaGet(ctx context.Context, orderID string) (model.Recarga, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT order_id, product_id, destino, amount, currency, status, created_at, updated_at"+
			" FROM recargas WHERE order_id = $1",
		orderID)
	var (
		recarga model.Recarga
		amount  string
	)
	err := row.Scan(&recarga.OrderID,
		&recarga.ProductID,
		&recarga.Destino,
		&amount,
		&recarga.Currency,
		&recarga.Status,
		&recarga.CreatedAt,
		&recarga.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Recarga{}, ErrNoRows
		}
		return model.Recarga{}, err
	}
	recarga.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return model.Recarga{}, err
	}
	return recarga, nil
}

func (store *pgStore) RecargaUpsert(ctx context.Context, recarga model.Recarga) error {
	return recargaUpsertTx(ctx, store.database, recarga)
}

func (store *pgStore) CatalogGet(ctx context.Context, productID string) (model.Product, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT id, category, base_price, currency, published FROM catalog WHERE id = $1",
		productID)
	var (
		product model.Product
		base    string
	)
	err := row.Scan(&product.ID,
		&product.Category,
		&base,
		&product.Currency,
		&product.Published)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Product{}, ErrNoRows
		}
		return model.Product{}, err
	}
	product.BasePrice, err = decimal.NewFromString(base)
	if err != nil {
		return model.Product{}, err
	}
	return product, nil
}

func (store *pgStore) CatalogUpsert(ctx context.Context, product model.Product) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO catalog (id, category, base_price, currency, published)"+
			" VALUES ($1, $2, $3, $4, $5)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET category = EXCLUDED.category, base_price = EXCLUDED.base_price,"+
			" currency = EXCLUDED.currency, published = EXCLUDED.published",
		product.ID,
		product.Category,
		product.BasePrice.StringFixed(2),
		product.Currency,
		product.Published)
	return err
}

func (store *pgStore) Changes() <-chan model.OrderChange {
	return store.changes
}

func (store *pgStore) Close() error {
	return store.database.Close()
}
