// Package postgres implements internal/inventory.Store on pgx, persisting
// the Product aggregate's three-way stock split and its reservations
// table, enforcing the optimistic version check on every save.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/inventory"
	"github.com/vectorcommerce/platform/internal/quantity"
)

// Store persists products and reservations across two tables, `products`
// and `stock_reservations`, giving `products` the version column and
// three-way stock split the aggregate shape of §3 requires.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load reads a Product and its reservations in one transaction, so the
// aggregate is never observed half-written between the two tables.
func (s *Store) Load(ctx context.Context, productID ids.ID) (*inventory.Product, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: begin load tx", err)
	}
	defer tx.Rollback(ctx)

	p := &inventory.Product{ProductID: productID, Reservations: map[ids.ID]inventory.Reservation{}}
	var total, available, reserved, threshold int64

	err = tx.QueryRow(ctx,
		`SELECT name, active, total_quantity, available_quantity, reserved_quantity, low_stock_threshold, version
		 FROM products WHERE product_id = $1`, productID).
		Scan(&p.Name, &p.Active, &total, &available, &reserved, &threshold, &p.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, errs.CodeProductNotFound, "inventory/postgres: product not found "+productID.String())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: load product", err)
	}

	p.Stock.Total = quantity.Quantity(total)
	p.Stock.Available = quantity.Quantity(available)
	p.Stock.Reserved = quantity.Quantity(reserved)
	p.LowStockThreshold = quantity.Quantity(threshold)

	rows, err := tx.Query(ctx,
		`SELECT reservation_id, order_id, quantity, state, created_at, expires_at
		 FROM stock_reservations WHERE product_id = $1`, productID)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: load reservations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r inventory.Reservation
		var reservationID, orderID ids.ID
		var qty int64
		var state string
		if err := rows.Scan(&reservationID, &orderID, &qty, &state, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: scan reservation", err)
		}
		r.ReservationID = reservationID
		r.OrderID = orderID
		r.Quantity = quantity.Quantity(qty)
		r.State = inventory.ReservationState(state)
		p.Reservations[reservationID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: reservation rows", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: commit load tx", err)
	}
	return p, nil
}

// Save persists p, guarded by expectedVersion: the UPDATE only succeeds if
// the row's current version still matches, per §4.1's optimistic check.
// Zero rows affected surfaces as errs.Conflict so the ledger's retry loop
// can reload and try again.
func (s *Store) Save(ctx context.Context, p *inventory.Product, expectedVersion int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "inventory/postgres: begin save tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE products
		 SET total_quantity = $1, available_quantity = $2, reserved_quantity = $3,
		     active = $4, version = $5, updated_at = now()
		 WHERE product_id = $6 AND version = $7`,
		int64(p.Stock.Total), int64(p.Stock.Available), int64(p.Stock.Reserved),
		p.Active, p.Version, p.ProductID, expectedVersion)
	if err != nil {
		return errs.Wrap(errs.Transient, "", "inventory/postgres: update product", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.Conflict, errs.CodeConcurrencyConflict, "inventory/postgres: version mismatch saving "+p.ProductID.String())
	}

	for id, r := range p.Reservations {
		_, err := tx.Exec(ctx,
			`INSERT INTO stock_reservations (reservation_id, product_id, order_id, quantity, state, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (reservation_id) DO UPDATE SET state = EXCLUDED.state`,
			id, p.ProductID, r.OrderID, int64(r.Quantity), string(r.State), r.CreatedAt, r.ExpiresAt)
		if err != nil {
			return errs.Wrap(errs.Transient, "", "inventory/postgres: upsert reservation", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.Transient, "", "inventory/postgres: commit save tx", err)
	}
	return nil
}

// LoadActiveExpiringBy returns, for every product with at least one ACTIVE
// reservation expiring at or before now, the product id and the expiring
// reservation ids — the query backing the periodic sweep of §4.7.
func (s *Store) LoadActiveExpiringBy(ctx context.Context, now time.Time) (map[ids.ID][]ids.ID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, reservation_id FROM stock_reservations
		 WHERE state = 'ACTIVE' AND expires_at <= $1`, now)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: query expiring reservations", err)
	}
	defer rows.Close()

	byProduct := map[ids.ID][]ids.ID{}
	for rows.Next() {
		var productID, reservationID ids.ID
		if err := rows.Scan(&productID, &reservationID); err != nil {
			return nil, errs.Wrap(errs.Transient, "", "inventory/postgres: scan expiring reservation", err)
		}
		byProduct[productID] = append(byProduct[productID], reservationID)
	}
	return byProduct, rows.Err()
}
