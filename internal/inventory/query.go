package inventory

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vectorcommerce/platform/internal/cache"
	"github.com/vectorcommerce/platform/internal/ids"
)

// ProductView is the read-only projection of a Product served by
// CachedReader: scalar fields only, so it round-trips through cache.Cache's
// JSON entry without the map-key encoding a full Product (keyed on ids.ID)
// would need.
type ProductView struct {
	ProductID         string `json:"productId"`
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	Total             uint64 `json:"total"`
	Available         uint64 `json:"available"`
	Reserved          uint64 `json:"reserved"`
	LowStockThreshold uint64 `json:"lowStockThreshold"`
}

func newProductView(p *Product) ProductView {
	return ProductView{
		ProductID:         p.ProductID.String(),
		Name:              p.Name,
		Active:            p.Active,
		Total:             uint64(p.Stock.Total),
		Available:         uint64(p.Stock.Available),
		Reserved:          uint64(p.Stock.Reserved),
		LowStockThreshold: uint64(p.LowStockThreshold),
	}
}

// CachedReader serves product reads cache-aside: check the cache, fall
// through to the authoritative store on a miss, populate the cache
// best-effort. It shares
// the same underlying Store the ledger's Service mutates through, but never
// itself participates in the lock/version-check mutation path of §4.1 — a
// stale read here is bounded by §4.4's TTL, never by a correctness
// invariant, which is why this is a plain accessor rather than a method on
// Service.
type CachedReader struct {
	store  Store
	cache  *cache.Cache
	logger *slog.Logger
}

func NewCachedReader(store Store, c *cache.Cache, logger *slog.Logger) *CachedReader {
	return &CachedReader{store: store, cache: c, logger: logger}
}

// GetProduct returns the current view of productID, preferring the cache.
// A cache error or miss falls through to the store; the result is written
// back to the cache before returning.
func (r *CachedReader) GetProduct(ctx context.Context, productID ids.ID) (ProductView, error) {
	key := productID.String()

	if raw, version, found, err := r.cache.Get(ctx, key); found {
		var view ProductView
		if jsonErr := json.Unmarshal(raw, &view); jsonErr == nil {
			if cache.NeedsRefresh(err) {
				go r.refresh(context.WithoutCancel(ctx), productID, version)
			}
			return view, nil
		}
	}

	return r.load(ctx, productID)
}

func (r *CachedReader) load(ctx context.Context, productID ids.ID) (ProductView, error) {
	p, err := r.store.Load(ctx, productID)
	if err != nil {
		return ProductView{}, err
	}

	view := newProductView(p)
	if body, err := json.Marshal(view); err == nil {
		r.cache.Set(ctx, productID.String(), body, int(p.Version))
	} else {
		r.logger.Warn("inventory: failed to encode product view for cache", "product_id", productID.String(), "error", err)
	}
	return view, nil
}

func (r *CachedReader) refresh(ctx context.Context, productID ids.ID, staleVersion int) {
	if _, err := r.load(ctx, productID); err != nil {
		r.logger.Warn("inventory: background cache refresh failed", "product_id", productID.String(), "error", err)
	}
}
