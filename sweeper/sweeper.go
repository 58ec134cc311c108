// Package sweeper drives retries for pending ledger records whose next
// attempt is due.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/observability"
)

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper scans for due records.
	Interval time.Duration

	// BatchSize caps how many due records one sweep picks up.
	BatchSize int

	// Concurrency caps parallel redeliveries within a sweep.
	Concurrency int

	Metrics *observability.Metrics
}

// Sweeper periodically scans the ledger for due records and redelivers them
// through the engine. Oldest due records go first, so a backlog drains in
// the order it accrued.
type Sweeper struct {
	ledger *ledger.Service
	engine *delivery.Engine
	config Config
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper.
func New(led *ledger.Service, engine *delivery.Engine, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Sweeper{
		ledger: led,
		engine: engine,
		config: cfg,
		logger: logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for in-flight redeliveries.
func (s *Sweeper) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep: fetch due records oldest first, redeliver
// each under the concurrency cap, and return how many were picked up.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	due, err := s.ledger.Due(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	if s.config.Metrics != nil {
		s.config.Metrics.RecordSweep(len(due))
	}
	if len(due) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup

	for _, rec := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			return len(due), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rec *ledger.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(ctx, "redelivery panic",
						"record_id", rec.ID, "panic", r)
				}
			}()

			if _, err := s.engine.Redeliver(ctx, rec); err != nil {
				s.logger.ErrorContext(ctx, "redelivery failed",
					"record_id", rec.ID, "error", err)
			}
		}(rec)
	}

	wg.Wait()
	return len(due), nil
}
