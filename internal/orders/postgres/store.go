// Package postgres implements internal/orders.Store on pgx, persisting the
// Order aggregate across an `orders` header row and an `order_items` line
// table, enforcing the optimistic version check on every save. The schema
// gives `orders` a `version` column for optimistic locking plus composite
// indexes on `(customerId, createdAt)` and `status`, per §6.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/events"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/money"
	"github.com/vectorcommerce/platform/internal/orders"
)

// Store persists orders and implements internal/orders.Store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load reads an Order and its line items in one transaction.
func (s *Store) Load(ctx context.Context, orderID ids.ID) (*orders.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: begin load tx", err)
	}
	defer tx.Rollback(ctx)

	o := &orders.Order{OrderID: orderID}
	var status, currency, contentHash string
	var totalMinor int64
	var paymentID, cancellationReason *string

	err = tx.QueryRow(ctx,
		`SELECT customer_id, status, total_amount_minor, currency, payment_id,
		        cancellation_reason, content_hash, created_at, updated_at, version
		 FROM orders WHERE order_id = $1`, orderID).
		Scan(&o.CustomerID, &status, &totalMinor, &currency, &paymentID,
			&cancellationReason, &contentHash, &o.CreatedAt, &o.LastModifiedAt, &o.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, errs.CodeOrderNotFound, "orders/postgres: order not found "+orderID.String())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: load order", err)
	}

	o.Status = orders.Status(status)
	o.PaymentID = paymentID
	o.CancellationReason = cancellationReason
	o.ContentHash = contentHash
	total, err := money.NewFromMinorUnits(totalMinor, currency)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, "", "orders/postgres: decode total amount", err)
	}
	o.TotalAmount = total

	rows, err := tx.Query(ctx,
		`SELECT product_id, product_name, quantity, unit_price_minor, line_total_minor, currency, reservation_id
		 FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it orders.OrderItem
		var productID ids.ID
		var qty uint64
		var unitPriceMinor, lineTotalMinor int64
		var itemCurrency string
		var reservationID *ids.ID
		if err := rows.Scan(&productID, &it.ProductName, &qty, &unitPriceMinor, &lineTotalMinor, &itemCurrency, &reservationID); err != nil {
			return nil, errs.Wrap(errs.Transient, "", "orders/postgres: scan order item", err)
		}
		it.ProductID = productID
		it.Quantity = qty
		it.ReservationID = reservationID
		unitPrice, err := money.NewFromMinorUnits(unitPriceMinor, itemCurrency)
		if err != nil {
			return nil, errs.Wrap(errs.Fatal, "", "orders/postgres: decode unit price", err)
		}
		lineTotal, err := money.NewFromMinorUnits(lineTotalMinor, itemCurrency)
		if err != nil {
			return nil, errs.Wrap(errs.Fatal, "", "orders/postgres: decode line total", err)
		}
		it.UnitPrice = unitPrice
		it.LineTotal = lineTotal
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: order item rows", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: commit load tx", err)
	}
	return o, nil
}

// Save upserts the order header, guarded by expectedVersion on update, and
// the line items (inserted once, on creation; an update afterwards only
// rewrites each item's reservation_id). expectedVersion == 0 means "does not
// exist yet" and routes to insert, matching the caller's convention of
// passing the pre-mutation Version it read before calling NewOrder/transition
// (never 0 for an order that has already been persisted, since NewOrder
// starts Version at 1).
func (s *Store) Save(ctx context.Context, o *orders.Order, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: begin save tx", err)
	}
	defer tx.Rollback(ctx)

	if expectedVersion == 0 {
		if err := s.insert(ctx, tx, o); err != nil {
			return err
		}
	} else {
		if err := s.update(ctx, tx, o, expectedVersion); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: commit save tx", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, o *orders.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders (order_id, customer_id, status, total_amount_minor, currency,
		                      payment_id, cancellation_reason, content_hash, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.OrderID, o.CustomerID, string(o.Status), o.TotalAmount.MinorUnits(), o.TotalAmount.Currency(),
		o.PaymentID, o.CancellationReason, o.ContentHash, o.CreatedAt, o.LastModifiedAt, o.Version)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: insert order", err)
	}

	for _, it := range o.Items {
		_, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price_minor, line_total_minor, currency, reservation_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice.MinorUnits(), it.LineTotal.MinorUnits(), it.UnitPrice.Currency(), it.ReservationID)
		if err != nil {
			return errs.Wrap(errs.Transient, "", "orders/postgres: insert order item", err)
		}
	}
	return nil
}

// updateReservations persists the reservation id the saga attached to each
// line item via Order.AttachReservations. Items are otherwise immutable
// after creation, so this is the one field order_items gains post-insert.
func (s *Store) updateReservations(ctx context.Context, tx pgx.Tx, o *orders.Order) error {
	for _, it := range o.Items {
		if it.ReservationID == nil {
			continue
		}
		_, err := tx.Exec(ctx,
			`UPDATE order_items SET reservation_id = $1 WHERE order_id = $2 AND product_id = $3`,
			it.ReservationID, o.OrderID, it.ProductID)
		if err != nil {
			return errs.Wrap(errs.Transient, "", "orders/postgres: update item reservation", err)
		}
	}
	return nil
}

func (s *Store) update(ctx context.Context, tx pgx.Tx, o *orders.Order, expectedVersion int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders
		 SET status = $1, payment_id = $2, cancellation_reason = $3, updated_at = now(), version = $4
		 WHERE order_id = $5 AND version = $6`,
		string(o.Status), o.PaymentID, o.CancellationReason, o.Version, o.OrderID, expectedVersion)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: update order", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.Conflict, errs.CodeConcurrencyConflict, "orders/postgres: version mismatch saving "+o.OrderID.String())
	}
	return s.updateReservations(ctx, tx, o)
}

// SaveWithOutbox persists o exactly as Save does, plus one outbox row for
// env, all inside the same transaction: the outbox pattern of §4.5, so a
// crash between mutating the aggregate and publishing its event can never
// lose the event (the row is committed with the aggregate, or not at all).
func (s *Store) SaveWithOutbox(ctx context.Context, o *orders.Order, expectedVersion int64, env events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: begin save-with-outbox tx", err)
	}
	defer tx.Rollback(ctx)

	if expectedVersion == 0 {
		if err := s.insert(ctx, tx, o); err != nil {
			return err
		}
	} else {
		if err := s.update(ctx, tx, o, expectedVersion); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "orders/postgres: marshal outbox envelope", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO order_outbox (event_id, aggregate_id, event_type, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, 'PENDING', $5)`,
		env.EventID, env.AggregateID, string(env.EventType), payload, env.OccurredAt)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: insert outbox row", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: commit save-with-outbox tx", err)
	}
	return nil
}

// FindPendingOutbox returns up to limit not-yet-sent outbox rows, oldest
// first, for the worker in outbox.go to drain.
func (s *Store) FindPendingOutbox(ctx context.Context, limit int) ([]orders.OutboxRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, event_type, payload FROM order_outbox
		 WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: find pending outbox", err)
	}
	defer rows.Close()

	var out []orders.OutboxRecord
	for rows.Next() {
		var r orders.OutboxRecord
		if err := rows.Scan(&r.EventID, &r.EventType, &r.Payload); err != nil {
			return nil, errs.Wrap(errs.Transient, "", "orders/postgres: scan outbox row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkOutboxSent flags an outbox row as published, so the next poll skips it.
func (s *Store) MarkOutboxSent(ctx context.Context, eventID ids.ID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE order_outbox SET status = 'SENT', sent_at = now() WHERE event_id = $1`, eventID)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "orders/postgres: mark outbox sent", err)
	}
	return nil
}

// FindMatchingContent implements the lookup side of §4.2's duplicate-order
// business rule (a): the most recent non-terminal order for customerID
// whose contentHash matches, or nil if none exists.
func (s *Store) FindMatchingContent(ctx context.Context, customerID, contentHash string) (*orders.Order, error) {
	var orderID ids.ID
	err := s.pool.QueryRow(ctx,
		`SELECT order_id FROM orders
		 WHERE customer_id = $1 AND content_hash = $2
		   AND status NOT IN ('CANCELLED', 'REFUNDED', 'FAILED', 'COMPLETED')
		 ORDER BY created_at DESC LIMIT 1`, customerID, contentHash).
		Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: find matching content", err)
	}
	return s.Load(ctx, orderID)
}

// FindByStatus lists orders in a given status, newest first, for
// operational tooling and the saga's recovery sweep.
func (s *Store) FindByStatus(ctx context.Context, status orders.Status, limit int) ([]ids.ID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "orders/postgres: find by status", err)
	}
	defer rows.Close()

	var out []ids.ID
	for rows.Next() {
		var id ids.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.Transient, "", "orders/postgres: scan order id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
