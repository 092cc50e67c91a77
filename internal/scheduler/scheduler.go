// Package scheduler runs the periodic ingestion and categorization cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai_feed/internal/model"
	"ai_feed/internal/pipeline"
)

// Store is the subset of storage used by the Scheduler.
type Store interface {
	ListActiveSources(ctx context.Context) ([]model.Source, error)
	RecordFetchError(ctx context.Context, id string, at time.Time, msg string) error
	CountItems(ctx context.Context, sourceID string, status model.ProcessingStatus) (int, error)
	ReclaimStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// Ingester fetches one source and stores its new items.
type Ingester interface {
	IngestSource(ctx context.Context, src model.Source) (int, error)
}

// Categorizer processes pending items of one source.
type Categorizer interface {
	CategorizeSource(ctx context.Context, sourceID string) (pipeline.Summary, error)
}

// Options tune the scheduler loop.
type Options struct {
	Interval   time.Duration
	Cooldown   time.Duration
	Workers    int
	StaleAfter time.Duration
}

// DefaultOptions returns the stock loop settings.
func DefaultOptions() Options {
	return Options{
		Interval:   5 * time.Minute,
		Cooldown:   time.Minute,
		Workers:    3,
		StaleAfter: 15 * time.Minute,
	}
}

// Scheduler periodically ingests due sources and categorizes their items.
type Scheduler struct {
	store       Store
	ingester    Ingester
	categorizer Categorizer
	log         *slog.Logger
	opts        Options
	now         func() time.Time
}

// New creates a Scheduler. Zero option fields take their defaults.
func New(store Store, ingester Ingester, categorizer Categorizer, log *slog.Logger, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	return &Scheduler{
		store:       store,
		ingester:    ingester,
		categorizer: categorizer,
		log:         log,
		opts:        opts,
		now:         time.Now,
	}
}

// Run runs a cycle immediately and then one per interval, blocking until ctx
// is cancelled. A failed cycle is retried after the shorter cooldown.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.opts.Interval
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("ingestion cycle failed", "error", err, "retry_in", s.opts.Cooldown)
			wait = s.opts.Cooldown
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle requeues stale items and processes every due source with bounded
// parallelism. Per-source failures are recorded on the source, not returned.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	now := s.now()
	if s.opts.StaleAfter > 0 {
		n, err := s.store.ReclaimStaleProcessing(ctx, now.Add(-s.opts.StaleAfter), now)
		if err != nil {
			return fmt.Errorf("reclaim stale items: %w", err)
		}
		if n > 0 {
			s.log.Warn("requeued stale processing items", "count", n)
		}
	}

	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	var due []model.Source
	for _, src := range sources {
		if src.IsDue(now) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		s.log.Debug("no due sources")
		return nil
	}

	s.log.Info("ingestion cycle", "due", len(due), "workers", s.opts.Workers)
	return RunBounded(ctx, s.opts.Workers, due, func(ctx context.Context, src model.Source) {
		_ = s.ProcessSource(ctx, src)
	})
}

// ProcessSource fetches src, stores new items and categorizes the source when
// it has new or still pending items. Fetch failures and panics are recorded on
// the source.
func (s *Scheduler) ProcessSource(ctx context.Context, src model.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.recordError(ctx, src, err)
		}
	}()

	created, err := s.ingester.IngestSource(ctx, src)
	if err != nil {
		s.recordError(ctx, src, err)
		return err
	}

	pending := created
	if pending == 0 {
		pending, err = s.store.CountItems(ctx, src.ID, model.StatusPending)
		if err != nil {
			s.log.Error("count pending items", "source_id", src.ID, "error", err)
			return err
		}
	}
	if pending == 0 {
		return nil
	}

	if _, err := s.categorizer.CategorizeSource(ctx, src.ID); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("categorize source", "source_id", src.ID, "error", err)
		}
		return err
	}
	return nil
}

func (s *Scheduler) recordError(ctx context.Context, src model.Source, err error) {
	if ctx.Err() != nil {
		return
	}
	s.log.Error("process source", "source_id", src.ID, "url", src.URL, "error", err)
	if rerr := s.store.RecordFetchError(ctx, src.ID, s.now(), err.Error()); rerr != nil {
		s.log.Error("record fetch error", "source_id", src.ID, "error", rerr)
	}
}
