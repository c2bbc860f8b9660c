// Package config loads process configuration from the environment,
// applying the defaults table of the external interfaces specification.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv loads a .env file from the working directory into the process
// environment the first time any config lookup runs, so local development
// can set POSTGRES_DSN and friends in a file instead of the shell. A missing
// .env is expected in production, where the environment is injected
// directly, so the error is discarded rather than surfaced.
var loadDotEnv = sync.OnceFunc(func() {
	_ = godotenv.Load()
})

// GetEnv retrieves an environment variable or returns a default value.
func GetEnv(key, defaultValue string) string {
	loadDotEnv()
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or panics if not set. Use
// only for settings with no safe default (DSNs, broker addresses).
func MustGetEnv(key string) string {
	loadDotEnv()
	value := os.Getenv(key)
	if value == "" {
		panic("config: required environment variable not set: " + key)
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	loadDotEnv()
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		panic(fmt.Sprintf("config: %s=%q is not a valid duration: %v", key, raw, err))
	}
	return d
}

func getInt(key string, defaultValue int) int {
	loadDotEnv()
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		panic(fmt.Sprintf("config: %s=%q is not a valid integer: %v", key, raw, err))
	}
	return v
}

// Config holds every tunable named in the external-interfaces
// configuration table, each with the stated default.
type Config struct {
	ReservationTTL        time.Duration
	OrderCancellationWin  time.Duration
	OrderDuplicateWindow  time.Duration
	OrderMaxItems         int
	LockDefaultWait       time.Duration
	LockDefaultLease      time.Duration
	CacheProductTTL       time.Duration
	CacheStockTTL         time.Duration
	PublisherRetryMax     int
	ConsumerRetryMax      int
	ExpirerInterval       time.Duration
	LedgerRetryMax        int
	CacheRefreshThreshold float64 // fraction of TTL remaining that triggers async refresh
}

// Load reads the configuration table from the environment, applying
// defaults for anything unset. It never returns an error: a malformed
// override panics at boot, per this codebase's convention of failing loud
// rather than silently falling back.
func Load() Config {
	return Config{
		ReservationTTL:        getDuration("RESERVATION_TTL", 30*time.Minute),
		OrderCancellationWin:  getDuration("ORDER_CANCELLATION_WINDOW", 24*time.Hour),
		OrderDuplicateWindow:  getDuration("ORDER_DUPLICATE_WINDOW", 5*time.Minute),
		OrderMaxItems:         getInt("ORDER_MAX_ITEMS", 100),
		LockDefaultWait:       getDuration("LOCK_DEFAULT_WAIT", 3*time.Second),
		LockDefaultLease:      getDuration("LOCK_DEFAULT_LEASE", 10*time.Second),
		CacheProductTTL:       getDuration("CACHE_PRODUCT_TTL", 10*time.Minute),
		CacheStockTTL:         getDuration("CACHE_STOCK_TTL", 5*time.Minute),
		PublisherRetryMax:     getInt("PUBLISHER_RETRY_MAX", 3),
		ConsumerRetryMax:      getInt("CONSUMER_RETRY_MAX", 3),
		ExpirerInterval:       getDuration("EXPIRER_INTERVAL", 60*time.Second),
		LedgerRetryMax:        getInt("LEDGER_RETRY_MAX", 3),
		CacheRefreshThreshold: 0.25,
	}
}
