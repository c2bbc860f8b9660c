package discovery_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorcommerce/platform/discovery"
	"github.com/vectorcommerce/platform/discovery/inmem"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterNilRegistryIsNoop(t *testing.T) {
	reg, err := discovery.Register(context.Background(), nil, "orders-1", "orders", "localhost:9001", testLogger())
	require.NoError(t, err)
	require.Nil(t, reg)
	require.NoError(t, reg.Deregister(context.Background()))
}

func TestRegisterStartsHeartbeatAndDeregisterStopsIt(t *testing.T) {
	registry := inmem.NewRegistry()

	reg, err := discovery.Register(context.Background(), registry, "orders-1", "orders", "localhost:9001", testLogger())
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.True(t, registry.Registered("orders", "orders-1"))

	require.Eventually(t, func() bool {
		return registry.CheckCount("orders", "orders-1") >= 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Deregister(context.Background()))
	require.False(t, registry.Registered("orders", "orders-1"))
}
