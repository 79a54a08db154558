package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/reconcile"
)

type fakeSyncer struct {
	mu       sync.Mutex
	lastPull time.Time
	pulls    chan struct{}
	pushes   chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{pulls: make(chan struct{}, 8), pushes: make(chan struct{}, 8)}
}

func (f *fakeSyncer) Pull(context.Context) (reconcile.PullResult, error) {
	signal(f.pulls)
	return reconcile.PullResult{}, nil
}

func (f *fakeSyncer) Push(context.Context) error {
	signal(f.pushes)
	return nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *fakeSyncer) LastPull() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPull
}

func (f *fakeSyncer) setLastPull(t time.Time) {
	f.mu.Lock()
	f.lastPull = t
	f.mu.Unlock()
}

func expect(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func expectNone(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func startScheduler(t *testing.T, syncer *fakeSyncer, outbox *collection.Outbox, opts ...Option) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := New(syncer, outbox, zerolog.New(io.Discard), opts...)
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	return cancel
}

func TestStartupPull(t *testing.T) {
	syncer := newFakeSyncer()
	startScheduler(t, syncer, collection.NewOutbox())
	expect(t, syncer.pulls, "startup pull")
}

func TestMutationTriggersPush(t *testing.T) {
	syncer := newFakeSyncer()
	outbox := collection.NewOutbox()
	startScheduler(t, syncer, outbox, WithoutStartupPull())

	outbox.Mark()
	expect(t, syncer.pushes, "push after mutation")
}

func TestFocusPullsOnlyWhenStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	syncer := newFakeSyncer()
	syncer.setLastPull(now.Add(-time.Minute))

	s := New(syncer, collection.NewOutbox(), zerolog.New(io.Discard),
		WithoutStartupPull(),
		WithClock(func() time.Time { return now }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Wait()
	}()
	s.Start(ctx)

	s.Focus()
	expectNone(t, syncer.pulls, "pull on fresh focus")

	syncer.setLastPull(now.Add(-DefaultStaleAfter - time.Second))
	s.Focus()
	expect(t, syncer.pulls, "pull on stale focus")
}

func TestRemoteChangeTriggersPull(t *testing.T) {
	syncer := newFakeSyncer()
	s := New(syncer, collection.NewOutbox(), zerolog.New(io.Discard), WithoutStartupPull())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.Wait()
	}()
	s.Start(ctx)

	s.RemoteChanged()
	expect(t, syncer.pulls, "pull after remote change")
}

func TestIntervalFlushesPendingBeforePulling(t *testing.T) {
	syncer := newFakeSyncer()
	outbox := collection.NewOutbox()
	outbox.Mark()
	// Drain the wake-up so only the ticker can trigger the push.
	<-outbox.Signal()

	startScheduler(t, syncer, outbox, WithoutStartupPull(), WithPullInterval(20*time.Millisecond))
	expect(t, syncer.pushes, "interval push of pending changes")
}

func TestIntervalPullsWhenClean(t *testing.T) {
	syncer := newFakeSyncer()
	startScheduler(t, syncer, collection.NewOutbox(), WithoutStartupPull(), WithPullInterval(20*time.Millisecond))
	expect(t, syncer.pulls, "interval pull")
}
