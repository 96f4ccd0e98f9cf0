package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/metrics"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/session"
)

// DestroyFunc tears down the infrastructure behind one orphan record.
// Returning provision.ErrInstanceNotFound counts as success: the resource is
// already in the desired end state.
type DestroyFunc func(ctx context.Context, record *models.OrphanRecord) error

// RecordError is a per-record sweep failure
type RecordError struct {
	RecordID string
	Err      error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("sweep of record %s failed: %v", e.RecordID, e.Err)
}

// Result summarizes one sweep pass
type Result struct {
	Destroyed []string
	Skipped   []string
	Failures  []RecordError
}

// Err aggregates per-record failures, nil when the pass was clean
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return fmt.Errorf("%d of %d records failed to sweep: %w",
		len(r.Failures), len(r.Destroyed)+len(r.Failures), errors.Join(errs...))
}

// Sweeper finds stale orphan records and destroys the machines behind them.
// It is the recovery path for controller processes killed before they could
// run their own teardown.
type Sweeper struct {
	store      *records.Store
	destroy    DestroyFunc
	knownHosts *session.KnownHosts
	logger     *logging.Logger
	metrics    *metrics.Metrics

	workers int
	limiter *rate.Limiter
}

// NewSweeper creates a sweeper. knownHosts and metrics may be nil.
func NewSweeper(store *records.Store, destroy DestroyFunc, kh *session.KnownHosts, logger *logging.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		store:      store,
		destroy:    destroy,
		knownHosts: kh,
		logger:     logger,
		metrics:    m,
		workers:    4,
		// Provisioning APIs throttle destroy storms; pace them
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

// SetWorkers overrides the worker-pool size
func (s *Sweeper) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SetRateLimit overrides the destroy pacing
func (s *Sweeper) SetRateLimit(rps float64, burst int) {
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// SweepAll lists the store and sweeps everything past the threshold
func (s *Sweeper) SweepAll(ctx context.Context, threshold time.Duration) (*Result, error) {
	recs, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("sweep aborted, cannot list records: %w", err)
	}
	s.metrics.SetOutstandingRecords(len(recs))
	return s.Sweep(ctx, recs, threshold, time.Now()), nil
}

// Sweep processes the given records. Records younger than threshold or still
// held by a live owner are skipped. Destroys run on a worker pool since they
// target disjoint resources; the only shared state is the result, mutated
// under a lock, and the record files, whose removal is naturally exclusive.
// A failed record never stops the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context, recs []*models.OrphanRecord, threshold time.Duration, now time.Time) *Result {
	result := &Result{}
	var mu sync.Mutex

	work := make(chan *models.OrphanRecord)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range work {
				outcome, err := s.sweepOne(ctx, record, threshold, now)
				mu.Lock()
				switch {
				case err != nil:
					result.Failures = append(result.Failures, RecordError{RecordID: record.ID, Err: err})
				case outcome == outcomeDestroyed:
					result.Destroyed = append(result.Destroyed, record.ID)
				default:
					result.Skipped = append(result.Skipped, record.ID)
				}
				mu.Unlock()
			}
		}()
	}

	for _, record := range recs {
		work <- record
	}
	close(work)
	wg.Wait()

	s.logger.Info("Sweep pass complete", map[string]interface{}{
		"destroyed": len(result.Destroyed),
		"skipped":   len(result.Skipped),
		"failed":    len(result.Failures),
	})
	s.metrics.ObserveSweep(len(result.Destroyed), len(result.Failures), len(result.Skipped))
	return result
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDestroyed
)

func (s *Sweeper) sweepOne(ctx context.Context, record *models.OrphanRecord, threshold time.Duration, now time.Time) (outcome, error) {
	if !record.Stale(now, threshold) {
		return outcomeSkipped, nil
	}
	if s.store.Held(record) {
		s.logger.Debug("Record is held by a live owner, skipping", map[string]interface{}{"id": record.ID})
		return outcomeSkipped, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		// Cancellation before the destroy is a skip, not a record failure;
		// the record stays for the next pass
		return outcomeSkipped, nil
	}

	s.logger.Info("Destroying orphaned machine", map[string]interface{}{
		"id": record.ID, "age": record.Age(now).String(), "address": record.Handle.Address,
	})

	if err := s.destroy(ctx, record); err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
		// Leave the record in place; the next pass retries
		return outcomeSkipped, err
	}

	// Local cleanup only after the destroy succeeded. Each removal is
	// idempotent on its own, so a pass that dies between them re-runs safely.
	if s.knownHosts != nil && record.Handle.Address != "" {
		if err := s.knownHosts.RemoveHost(record.Handle.Address); err != nil {
			return outcomeDestroyed, fmt.Errorf("machine destroyed but known_hosts cleanup failed: %w", err)
		}
	}
	if err := s.store.Unlock(record.ID); err != nil {
		return outcomeDestroyed, fmt.Errorf("machine destroyed but lock removal failed: %w", err)
	}
	if err := s.store.Remove(record.ID); err != nil {
		return outcomeDestroyed, fmt.Errorf("machine destroyed but record removal failed: %w", err)
	}

	return outcomeDestroyed, nil
}

// RunPeriodic sweeps on a fixed interval until the context is cancelled.
// Used by the sweep daemon.
func (s *Sweeper) RunPeriodic(ctx context.Context, interval, threshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepAll(ctx, threshold); err != nil {
			s.logger.Error("Sweep pass failed", map[string]interface{}{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
