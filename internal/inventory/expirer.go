package inventory

import (
	"context"
	"log/slog"
	"time"

	"github.com/vectorcommerce/platform/internal/ids"
)

// ExpiringLister is the narrow query internal/inventory/postgres.Store
// serves the expirer with: which products have reservations due to expire.
type ExpiringLister interface {
	LoadActiveExpiringBy(ctx context.Context, now time.Time) (map[ids.ID][]ids.ID, error)
}

// Expirer is the periodic sweep of §4.7: every interval it finds all
// ACTIVE reservations past their expiry, groups them by product, and
// releases each one under that product's lock. Safe to run on multiple
// processes concurrently because the lock serialises per product.
type Expirer struct {
	lister   ExpiringLister
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewExpirer(lister ExpiringLister, service *Service, interval time.Duration, logger *slog.Logger) *Expirer {
	return &Expirer{lister: lister, service: service, interval: interval, logger: logger}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (e *Expirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

func (e *Expirer) sweepOnce(ctx context.Context) {
	byProduct, err := e.lister.LoadActiveExpiringBy(ctx, time.Now())
	if err != nil {
		e.logger.Error("expirer: failed to list expiring reservations", "error", err)
		return
	}

	total := 0
	for productID, reservationIDs := range byProduct {
		for _, reservationID := range reservationIDs {
			if err := e.service.ExpireReservation(ctx, productID, reservationID, ids.New()); err != nil {
				e.logger.Error("expirer: release failed", "product_id", productID.String(), "reservation_id", reservationID.String(), "error", err)
				continue
			}
			total++
		}
	}
	if total > 0 {
		e.logger.Info("expirer: swept reservations", "count", total)
	}
}
