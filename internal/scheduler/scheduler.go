// Package scheduler decides when the reconciliation engine syncs: after local
// mutations, at startup, on refocus after a quiet period, on a timer and when
// another device announces a change.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/reconcile"
	"github.com/example/shelf-sync/internal/types"
)

// DefaultStaleAfter is how long after a successful pull a refocus triggers a
// new one.
const DefaultStaleAfter = 5 * time.Minute

// Syncer is the part of the engine the scheduler drives.
type Syncer interface {
	Pull(ctx context.Context) (reconcile.PullResult, error)
	Push(ctx context.Context) error
	LastPull() time.Time
}

// Scheduler turns triggers into engine calls. Background sync errors are
// logged and never surfaced.
type Scheduler struct {
	engine Syncer
	outbox *collection.Outbox
	logger zerolog.Logger

	staleAfter   time.Duration
	pullInterval time.Duration
	pullOnStart  bool
	now          func() time.Time

	focus   chan struct{}
	changed chan struct{}

	wg sync.WaitGroup
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithStaleAfter sets the refocus staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithPullInterval enables a periodic pull. Zero disables it.
func WithPullInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.pullInterval = d
	}
}

// WithoutStartupPull skips the pull normally issued when the loop starts.
func WithoutStartupPull() Option {
	return func(s *Scheduler) {
		s.pullOnStart = false
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New constructs a scheduler over engine and the outbox its mutations mark.
func New(engine Syncer, outbox *collection.Outbox, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:      engine,
		outbox:      outbox,
		logger:      logger,
		staleAfter:  DefaultStaleAfter,
		pullOnStart: true,
		now:         time.Now,
		focus:       make(chan struct{}, 1),
		changed:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the trigger loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Wait blocks until the loop and every dispatched sync have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Focus reports that the user came back to the application.
func (s *Scheduler) Focus() {
	notify(s.focus)
}

// RemoteChanged reports that another device pushed the document.
func (s *Scheduler) RemoteChanged() {
	notify(s.changed)
}

// PullNow runs a pull for a manual request and returns its outcome.
func (s *Scheduler) PullNow(ctx context.Context) (reconcile.PullResult, error) {
	return s.engine.Pull(ctx)
}

// PushNow runs a push for a manual request and returns its outcome.
func (s *Scheduler) PushNow(ctx context.Context) error {
	return s.engine.Push(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.pullOnStart {
		s.dispatch(ctx, "startup", s.pull)
	}

	var tick <-chan time.Time
	if s.pullInterval > 0 {
		ticker := time.NewTicker(s.pullInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.outbox.Signal():
			s.dispatch(ctx, "mutation", s.push)
		case <-s.focus:
			if s.stale() {
				s.dispatch(ctx, "focus", s.pull)
			}
		case <-s.changed:
			s.dispatch(ctx, "remote change", s.pull)
		case <-tick:
			if _, pending := s.outbox.Pending(); pending {
				s.dispatch(ctx, "interval", s.push)
			} else {
				s.dispatch(ctx, "interval", s.pull)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) stale() bool {
	last := s.engine.LastPull()
	return last.IsZero() || s.now().Sub(last) > s.staleAfter
}

// dispatch runs fn without blocking the loop. Overlapping runs are collapsed
// by the engine's in-flight guard.
func (s *Scheduler) dispatch(ctx context.Context, trigger string, fn func(context.Context, string)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx, trigger)
	}()
}

func (s *Scheduler) pull(ctx context.Context, trigger string) {
	_, err := s.engine.Pull(ctx)
	s.logResult("pull", trigger, err)
}

func (s *Scheduler) push(ctx context.Context, trigger string) {
	err := s.engine.Push(ctx)
	s.logResult("push", trigger, err)
}

func (s *Scheduler) logResult(op, trigger string, err error) {
	switch {
	case err == nil:
		s.logger.Debug().Str("op", op).Str("trigger", trigger).Msg("sync finished")
	case errors.Is(err, types.ErrSyncInFlight):
		s.logger.Debug().Str("op", op).Str("trigger", trigger).Msg("sync already in flight; trigger dropped")
	case errors.Is(err, types.ErrNotConfigured):
		s.logger.Debug().Str("op", op).Str("trigger", trigger).Msg("no remote document configured")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Warn().Err(err).Str("op", op).Str("trigger", trigger).Msg("background sync failed")
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
