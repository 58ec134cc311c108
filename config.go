package herald

import (
	"time"

	"github.com/signalworks/herald/retry"
)

// Config holds the configuration for a Herald instance.
type Config struct {
	// Concurrency is the number of parallel deliveries per event fan-out
	// and per sweep.
	Concurrency int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// RetryPolicy governs backoff and the attempt cap for failed deliveries.
	RetryPolicy retry.Policy

	// SweepInterval is how often the sweeper scans for due retries.
	SweepInterval time.Duration

	// SweepBatchSize caps how many due records one sweep picks up.
	SweepBatchSize int

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// CacheTTL is the TTL for the catalog's in-memory event type cache.
	// Set to 0 to disable expiry.
	CacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		RequestTimeout:  10 * time.Second,
		RetryPolicy:     retry.DefaultPolicy(),
		SweepInterval:   time.Minute,
		SweepBatchSize:  100,
		ShutdownTimeout: 30 * time.Second,
		CacheTTL:        30 * time.Second,
	}
}
