package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNeedsRefreshBelowThreshold(t *testing.T) {
	c := New(nil, testLogger(), "product", 10*time.Minute, 0.25)
	e := entry{Version: 1, CachedAt: time.Now().Add(-8 * time.Minute)} // 2 min left of 10, under the 2.5 min threshold
	if !c.needsRefresh(e) {
		t.Fatal("expected an entry within the refresh threshold to need refresh")
	}
}

func TestNeedsRefreshAboveThreshold(t *testing.T) {
	c := New(nil, testLogger(), "product", 10*time.Minute, 0.25)
	e := entry{Version: 1, CachedAt: time.Now()} // freshly cached
	if c.needsRefresh(e) {
		t.Fatal("did not expect a freshly cached entry to need refresh")
	}
}

func TestHotKeysResetsCounters(t *testing.T) {
	c := New(nil, testLogger(), "product", time.Minute, 0.25)
	for i := 0; i < 5; i++ {
		c.recordAccess("p1")
	}
	c.recordAccess("p2")

	hot := c.HotKeys(3)
	if len(hot) != 1 || hot[0] != "p1" {
		t.Fatalf("HotKeys(3) = %v, want [p1]", hot)
	}

	// Counters reset after the call: a second call with the same threshold
	// finds nothing until fresh accesses accumulate.
	if hot := c.HotKeys(1); len(hot) != 0 {
		t.Fatalf("expected counters to reset, got %v", hot)
	}
}

func TestEvictLocalRemovesEntry(t *testing.T) {
	c := New(nil, testLogger(), "product", time.Minute, 0.25)
	c.local["p1"] = entry{Version: 1}
	c.evictLocal("p1")
	if _, ok := c.local["p1"]; ok {
		t.Fatal("expected p1 to be evicted from the local layer")
	}
}

func TestLocalLayerServesWithoutRedis(t *testing.T) {
	c := New(nil, testLogger(), "product", time.Minute, 0.25)
	c.local["p1"] = entry{Version: 3, Data: []byte(`{"id":"p1"}`), CachedAt: time.Now()}

	data, version, found, err := c.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected a hit served from the local layer")
	}
	if version != 3 {
		t.Fatalf("version = %d, want 3", version)
	}
	if string(data) != `{"id":"p1"}` {
		t.Fatalf("data = %s", data)
	}
}

func TestNeedsRefreshSentinelDistinctFromError(t *testing.T) {
	if NeedsRefresh(nil) {
		t.Fatal("nil must never be reported as the refresh sentinel")
	}
	if !NeedsRefresh(errNeedsRefresh) {
		t.Fatal("errNeedsRefresh must be recognized by NeedsRefresh")
	}
}
