package inventory

import (
	"testing"

	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/quantity"
)

func TestNewProductViewMapsStockSplit(t *testing.T) {
	total, _ := quantity.New(100)
	available, _ := quantity.New(60)
	reserved, _ := quantity.New(40)
	threshold, _ := quantity.New(10)

	p := &Product{
		ProductID: ids.New(),
		Name:      "widget",
		Active:    true,
		Stock:     Stock{Total: total, Available: available, Reserved: reserved},
		LowStockThreshold: threshold,
		Version:           3,
	}

	view := newProductView(p)
	if view.ProductID != p.ProductID.String() {
		t.Fatalf("ProductID = %q, want %q", view.ProductID, p.ProductID.String())
	}
	if view.Total != 100 || view.Available != 60 || view.Reserved != 40 {
		t.Fatalf("unexpected stock split in view: %+v", view)
	}
	if !view.Active {
		t.Fatal("expected Active to carry through")
	}
}
