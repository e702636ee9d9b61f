package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// Options tunes the breaker and the upsert fan-out.
type Options struct {
	Name             string
	Concurrency      int
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Name:             "mirror",
		Concurrency:      8,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// RecordError is a failed upsert of one record.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string { return fmt.Sprintf("record %s: %v", e.ID, e.Err) }

func (e RecordError) Unwrap() error { return e.Err }

// Report summarizes an Upsert.
type Report struct {
	Written int
	Failed  []RecordError
}

// Err joins the per-record failures, or nil if every record was written.
func (r Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Guarded wraps a Backend with a circuit breaker and bounded parallel upserts.
type Guarded struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
	limit   int
	logger  zerolog.Logger
}

// NewGuarded wraps backend. Zero-valued option fields take their defaults.
func NewGuarded(backend Backend, opts Options, logger zerolog.Logger) *Guarded {
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = def.MaxRequests
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.MinRequests == 0 {
		opts.MinRequests = def.MinRequests
	}

	logger = logger.With().Str("component", "mirror").Str("breaker", opts.Name).Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Mirror circuit breaker changed state")
		},
	})

	return &Guarded{backend: backend, cb: cb, limit: opts.Concurrency, logger: logger}
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// Upsert writes every record independently. A failure of one record never
// prevents the others from being attempted, and failures are reported rather
// than returned.
func (g *Guarded) Upsert(ctx context.Context, uid, collection string, records []Record) Report {
	g.logger.Debug().
		Str("method", "Upsert").
		Str("collection", collection).
		Int("records", len(records)).
		Msg("called")

	var (
		mu     sync.Mutex
		report Report
	)
	var eg errgroup.Group
	eg.SetLimit(g.limit)
	for _, rec := range records {
		eg.Go(func() error {
			_, err := g.cb.Execute(func() (any, error) {
				return nil, g.backend.Put(ctx, uid, collection, rec)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, RecordError{ID: rec.ID, Err: err})
				return nil
			}
			report.Written++
			return nil
		})
	}
	_ = eg.Wait() //nolint:errcheck // Workers report through the Report

	if len(report.Failed) > 0 {
		g.logger.Warn().
			Str("collection", collection).
			Int("failed", len(report.Failed)).
			Int("written", report.Written).
			Err(report.Failed[0].Err).
			Msg("Some records were not mirrored")
	}
	return report
}

// List reads a collection through the breaker.
func (g *Guarded) List(ctx context.Context, uid, collection string) ([]Record, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return g.backend.List(ctx, uid, collection)
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	records, _ := out.([]Record)
	return records, nil
}

// IsUnavailable reports whether err came from an open or saturated breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
