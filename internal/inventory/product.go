// Package inventory implements the stock ledger of §4.1: the Product
// aggregate, its reservation lifecycle, and the lock/version-checked
// mutation path that keeps the ledger's invariants intact under
// concurrent access.
package inventory

import (
	"time"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/quantity"
)

// ReservationState is the lifecycle state of one Reservation.
type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVE"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationReleased  ReservationState = "RELEASED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// ReleaseReason records why a reservation left the ACTIVE state, carried
// onward into the StockReleased event.
type ReleaseReason string

const (
	ReleaseReasonExpired           ReleaseReason = "EXPIRED"
	ReleaseReasonPaymentFailed     ReleaseReason = "PAYMENT_FAILED"
	ReleaseReasonOrderCancelled    ReleaseReason = "ORDER_CANCELLED"
	ReleaseReasonManualAdjustment  ReleaseReason = "MANUAL_ADJUSTMENT"
)

// Reservation is one allocation of quantity against a Product's stock,
// holding it out of the available pool until confirmed, released, or
// swept as expired.
type Reservation struct {
	ReservationID ids.ID
	OrderID       ids.ID
	Quantity      quantity.Quantity
	State         ReservationState
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

func (r Reservation) isTerminal() bool {
	return r.State == ReservationConfirmed || r.State == ReservationReleased || r.State == ReservationExpired
}

// Stock is the three-way split invariant 1 of §3 requires: total always
// equals available plus reserved.
type Stock struct {
	Total     quantity.Quantity
	Available quantity.Quantity
	Reserved  quantity.Quantity
}

// Product is the inventory aggregate root. All mutation happens through
// the methods below, which enforce §3's invariants 1-5 before returning;
// the caller is responsible for the lock/version-check/persist wrapper
// described in §4.1 (see Service in ledger.go).
type Product struct {
	ProductID         ids.ID
	Name              string
	Active            bool
	Stock             Stock
	Reservations      map[ids.ID]Reservation
	LowStockThreshold quantity.Quantity
	Version           int64
}

// hasEnoughAvailable reports whether quantity q could be reserved
// right now without checking state.
func (p *Product) hasEnoughAvailable(q quantity.Quantity) bool {
	return p.Stock.Available.GreaterOrEqual(q)
}

// Reserve allocates q units against the product for orderID, returning
// the new ACTIVE reservation. Fails ProductInactive / InsufficientStock
// per §4.1; never partially mutates on failure.
func (p *Product) Reserve(orderID ids.ID, q quantity.Quantity, ttl time.Duration, now time.Time) (Reservation, error) {
	if !p.Active {
		return Reservation{}, errs.New(errs.BusinessRule, errs.CodeProductInactive, "inventory: product "+p.ProductID.String()+" is inactive")
	}
	if !p.hasEnoughAvailable(q) {
		return Reservation{}, errs.New(errs.BusinessRule, errs.CodeInsufficientStock,
			"inventory: insufficient stock for "+p.ProductID.String())
	}

	available, err := p.Stock.Available.Sub(q)
	if err != nil {
		return Reservation{}, errs.Wrap(errs.Fatal, "", "inventory: available underflow", err)
	}
	reserved, err := p.Stock.Reserved.Add(q)
	if err != nil {
		return Reservation{}, errs.Wrap(errs.Fatal, "", "inventory: reserved overflow", err)
	}

	r := Reservation{
		ReservationID: ids.New(),
		OrderID:       orderID,
		Quantity:      q,
		State:         ReservationActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	p.Stock.Available = available
	p.Stock.Reserved = reserved
	p.Reservations[r.ReservationID] = r
	p.Version++

	return r, nil
}

// Confirm converts an ACTIVE reservation into a permanent deduction:
// quantity leaves both reserved and total. Idempotent on an
// already-CONFIRMED reservation; fails ReservationInvalid for any other
// terminal state.
func (p *Product) Confirm(reservationID ids.ID) error {
	r, ok := p.Reservations[reservationID]
	if !ok {
		return errs.New(errs.NotFound, errs.CodeReservationInvalid, "inventory: no such reservation "+reservationID.String())
	}
	if r.State == ReservationConfirmed {
		return nil
	}
	if r.State != ReservationActive {
		return errs.New(errs.BusinessRule, errs.CodeReservationInvalid,
			"inventory: cannot confirm reservation in state "+string(r.State))
	}

	reserved, err := p.Stock.Reserved.Sub(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: reserved underflow on confirm", err)
	}
	total, err := p.Stock.Total.Sub(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: total underflow on confirm", err)
	}

	p.Stock.Reserved = reserved
	p.Stock.Total = total
	r.State = ReservationConfirmed
	p.Reservations[reservationID] = r
	p.Version++

	return nil
}

// Release returns an ACTIVE reservation's quantity to available stock.
// Idempotent on an already-RELEASED reservation; fails AlreadyConfirmed
// against a CONFIRMED one.
func (p *Product) Release(reservationID ids.ID, reason ReleaseReason) error {
	r, ok := p.Reservations[reservationID]
	if !ok {
		return errs.New(errs.NotFound, errs.CodeReservationInvalid, "inventory: no such reservation "+reservationID.String())
	}
	if r.State == ReservationReleased {
		return nil
	}
	if r.State == ReservationConfirmed {
		return errs.New(errs.BusinessRule, errs.CodeAlreadyConfirmed,
			"inventory: reservation "+reservationID.String()+" is already confirmed")
	}
	if r.State != ReservationActive {
		return errs.New(errs.BusinessRule, errs.CodeReservationInvalid,
			"inventory: cannot release reservation in state "+string(r.State))
	}

	available, err := p.Stock.Available.Add(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: available overflow on release", err)
	}
	reserved, err := p.Stock.Reserved.Sub(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: reserved underflow on release", err)
	}

	p.Stock.Available = available
	p.Stock.Reserved = reserved
	r.State = ReservationReleased
	p.Reservations[reservationID] = r
	_ = reason // carried by the caller into the StockReleased event, not stored on the aggregate
	p.Version++

	return nil
}

// Adjust applies a direct inbound/loss/correction delta to total and
// available stock, outside the reservation flow. Fails rather than let
// the result violate non-negativity.
func (p *Product) Adjust(delta int64, reason string) error {
	_ = reason
	if delta >= 0 {
		d, err := quantity.New(delta)
		if err != nil {
			return err
		}
		total, err := p.Stock.Total.Add(d)
		if err != nil {
			return errs.Wrap(errs.Fatal, "", "inventory: total overflow on adjust", err)
		}
		available, err := p.Stock.Available.Add(d)
		if err != nil {
			return errs.Wrap(errs.Fatal, "", "inventory: available overflow on adjust", err)
		}
		p.Stock.Total = total
		p.Stock.Available = available
	} else {
		d, err := quantity.New(-delta)
		if err != nil {
			return err
		}
		total, err := p.Stock.Total.Sub(d)
		if err != nil {
			return errs.New(errs.BusinessRule, errs.CodeInsufficientStock, "inventory: adjust would make total negative")
		}
		available, err := p.Stock.Available.Sub(d)
		if err != nil {
			return errs.New(errs.BusinessRule, errs.CodeInsufficientStock, "inventory: adjust would make available negative")
		}
		p.Stock.Total = total
		p.Stock.Available = available
	}
	p.Version++
	return nil
}

// ExpireReservation transitions an ACTIVE reservation that has passed its
// expiry to EXPIRED and returns its quantity to available, mirroring
// Release but tagged distinctly for the sweeper's bookkeeping.
func (p *Product) ExpireReservation(reservationID ids.ID) error {
	r, ok := p.Reservations[reservationID]
	if !ok || r.State != ReservationActive {
		return nil // already swept or no longer active; sweepExpired is idempotent
	}

	available, err := p.Stock.Available.Add(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: available overflow on expire", err)
	}
	reserved, err := p.Stock.Reserved.Sub(r.Quantity)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "inventory: reserved underflow on expire", err)
	}

	p.Stock.Available = available
	p.Stock.Reserved = reserved
	r.State = ReservationExpired
	p.Reservations[reservationID] = r
	p.Version++

	return nil
}

// ActiveReservationsExpiringBy returns every ACTIVE reservation whose
// ExpiresAt is at or before now, for the sweeper in expirer.go.
func (p *Product) ActiveReservationsExpiringBy(now time.Time) []Reservation {
	var due []Reservation
	for _, r := range p.Reservations {
		if r.State == ReservationActive && !r.ExpiresAt.After(now) {
			due = append(due, r)
		}
	}
	return due
}

// IsLowStock reports whether available stock has fallen to or below the
// product's configured threshold, per §4.1's low-stock signal.
func (p *Product) IsLowStock() bool {
	return p.LowStockThreshold.GreaterOrEqual(p.Stock.Available)
}

// CheckInvariants re-derives invariants 1 and 3 of §3 from the current
// state, for use in tests and as a defensive check after load.
func (p *Product) CheckInvariants() error {
	total, err := p.Stock.Available.Add(p.Stock.Reserved)
	if err != nil {
		return err
	}
	if total != p.Stock.Total {
		return errs.New(errs.Fatal, "", "inventory: total != available + reserved")
	}

	var sumActive quantity.Quantity
	for _, r := range p.Reservations {
		if r.State == ReservationActive {
			sumActive, err = sumActive.Add(r.Quantity)
			if err != nil {
				return err
			}
		}
	}
	if sumActive != p.Stock.Reserved {
		return errs.New(errs.Fatal, "", "inventory: reserved != sum of active reservation quantities")
	}
	return nil
}
