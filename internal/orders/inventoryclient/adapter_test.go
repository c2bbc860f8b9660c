package inventoryclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorcommerce/platform/internal/errs"
	"github.com/vectorcommerce/platform/internal/ids"
	"github.com/vectorcommerce/platform/internal/inventory"
	"github.com/vectorcommerce/platform/internal/orders"
)

func TestReleaseReasonMapsSagaStrings(t *testing.T) {
	require.Equal(t, inventory.ReleaseReasonPaymentFailed, releaseReason("payment_failed"))
	require.Equal(t, inventory.ReleaseReasonExpired, releaseReason("expired"))
	require.Equal(t, inventory.ReleaseReasonManualAdjustment, releaseReason("manual_adjustment"))
	require.Equal(t, inventory.ReleaseReasonOrderCancelled, releaseReason("customer_cancelled"))
	require.Equal(t, inventory.ReleaseReasonOrderCancelled, releaseReason("anything else"))
}

func TestReserveBatchRejectsInvalidQuantityBeforeCallingService(t *testing.T) {
	a := New(nil) // nil service is safe: validation fails before any call through it
	// A uint64 this large wraps negative once cast to int64, the boundary
	// quantity.New actually validates against.
	lines := []orders.InventoryLine{{ProductID: ids.New(), Quantity: ^uint64(0)}}

	_, err := a.ReserveBatch(context.Background(), ids.New(), lines, 30*time.Minute, ids.New())
	require.Error(t, err)
	require.Equal(t, errs.Validation, errs.KindOf(err))
}
