package herald

import (
	"log/slog"
	"sync"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/observability"
	"github.com/signalworks/herald/retry"
	"github.com/signalworks/herald/secrets"
	"github.com/signalworks/herald/store"
	"github.com/signalworks/herald/subscription"
	"github.com/signalworks/herald/sweeper"
)

// Herald is the root event delivery engine: an in-process event bus whose
// events also fan out to webhook subscriptions.
type Herald struct {
	config    Config
	store     store.Store
	cipher    secrets.Cipher
	catalog   *catalog.Catalog
	validator *catalog.Validator
	subSvc    *subscription.Service
	instSvc   *installation.Service
	ledgerSvc *ledger.Service
	dlqSvc    *dlq.Service
	engine    *delivery.Engine
	sweeper   *sweeper.Sweeper
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger

	mu        sync.RWMutex
	listeners []*listenerEntry
	nextID    uint64
}

// Option configures a Herald instance.
type Option func(*Herald) error

// New creates a new Herald with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	h.wireServices()
	return h, nil
}

// WithStore sets the persistence backend for the Herald instance.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithCipher sets the cipher used to encrypt signing secrets at rest.
// Defaults to plaintext pass-through.
func WithCipher(c secrets.Cipher) Option {
	return func(h *Herald) error {
		h.cipher = c
		return nil
	}
}

// WithLogger sets the structured logger for the Herald instance.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		h.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of parallel deliveries per fan-out.
func WithConcurrency(n int) Option {
	return func(h *Herald) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.RequestTimeout = d
		return nil
	}
}

// WithRetryPolicy sets the backoff policy for failed deliveries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(h *Herald) error {
		h.config.RetryPolicy = p
		return nil
	}
}

// WithSweepInterval sets how often the sweeper scans for due retries.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.SweepInterval = d
		return nil
	}
}

// WithSweepBatchSize sets how many due records one sweep picks up.
func WithSweepBatchSize(n int) Option {
	return func(h *Herald) error {
		h.config.SweepBatchSize = n
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory event type cache.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.CacheTTL = d
		return nil
	}
}

// WithMetrics enables metric instruments built from the given factory.
func WithMetrics(factory gu.MetricFactory) Option {
	return func(h *Herald) error {
		h.metrics = observability.NewMetrics(factory)
		return nil
	}
}

// WithTracing enables OpenTelemetry spans on emits and deliveries.
func WithTracing() Option {
	return func(h *Herald) error {
		h.tracer = observability.NewTracer()
		return nil
	}
}
