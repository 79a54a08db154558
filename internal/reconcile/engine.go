// Package reconcile keeps the in-memory collection, the local cache and the
// remote document consistent. The remote document is the source of truth on
// pull: a pull replaces the collection wholesale and discards unpushed local
// changes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/localcache"
	"github.com/example/shelf-sync/internal/metadata"
	"github.com/example/shelf-sync/internal/observability"
	"github.com/example/shelf-sync/internal/remote"
	"github.com/example/shelf-sync/internal/types"
	"github.com/example/shelf-sync/internal/wire"
)

// Publisher announces that a document was pushed.
type Publisher interface {
	Publish(ctx context.Context, documentID string) error
}

// Observer is told about every completed pull or push.
type Observer interface {
	Synced(op, documentID string, books int)
}

// PullResult summarizes one pull.
type PullResult struct {
	Rows         int `json:"rows"`
	Skipped      int `json:"skipped"`
	CacheHits    int `json:"cacheHits"`
	LookedUp     int `json:"lookedUp"`
	Unresolved   int `json:"unresolved"`
	LookupFailed int `json:"lookupFailed"`
	Books        int `json:"books"`
}

// Engine runs pull and push against the remote store. At most one of them is
// in flight at a time; a request that arrives meanwhile is dropped with
// ErrSyncInFlight.
type Engine struct {
	store    *collection.Store
	outbox   *collection.Outbox
	cache    localcache.Cache
	remote   remote.Store
	provider metadata.Provider
	logger   zerolog.Logger

	publisher   Publisher
	observer    Observer
	lookupLimit int
	now         func() time.Time

	inFlight atomic.Bool

	mu       sync.RWMutex
	settings types.SyncSettings
	lastPull time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLookupLimit caps concurrent metadata lookups during a pull. Zero or a
// negative value means no cap.
func WithLookupLimit(n int) Option {
	return func(e *Engine) {
		e.lookupLimit = n
	}
}

// WithPublisher announces successful pushes through p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithObserver reports completed syncs to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine wires an engine over the shared store and outbox.
func NewEngine(store *collection.Store, outbox *collection.Outbox, cache localcache.Cache, rs remote.Store, provider metadata.Provider, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		outbox:   outbox,
		cache:    cache,
		remote:   rs,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load restores the collection and sync settings from the local cache.
func (e *Engine) Load(ctx context.Context) error {
	books, err := e.cache.LoadBooks(ctx)
	if err != nil {
		return fmt.Errorf("load books: %w", err)
	}
	settings, err := e.cache.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	kept := e.store.Replace(books)
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.logger.Info().Int("books", kept).Bool("configured", settings.Configured()).Msg("collection loaded from cache")
	return nil
}

// Settings returns the current sync settings.
func (e *Engine) Settings() types.SyncSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// LastPull returns the time of the last successful pull, zero if none.
func (e *Engine) LastPull() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastPull
}

// Configure persists a new remote id and credential. An empty remoteID makes
// the next push create a fresh document.
func (e *Engine) Configure(ctx context.Context, remoteID, credential string) error {
	settings := types.SyncSettings{RemoteID: remoteID, Credential: credential}
	if err := e.cache.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	return nil
}

// InFlight reports whether a pull or push is running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Pull fetches the remote document, expands it and replaces the collection.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		droppedTriggers.WithLabelValues("pull").Inc()
		return PullResult{}, types.ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	ctx, span := tracer.Start(ctx, "reconcile.pull")
	defer span.End()

	start := time.Now()
	result, err := e.pull(ctx)
	observeSync("pull", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetAttributes(
		attribute.Int("pull.rows", result.Rows),
		attribute.Int("pull.books", result.Books),
	)
	result.record()
	e.observe("pull", result.Books)
	return result, nil
}

func (e *Engine) pull(ctx context.Context) (PullResult, error) {
	logger := observability.LoggerWithTrace(ctx, e.logger)
	settings := e.Settings()
	if settings.RemoteID == "" {
		return PullResult{}, types.ErrNotConfigured
	}

	text, err := e.remote.Fetch(ctx, settings.RemoteID, settings.Credential)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: %w", err)
	}

	decoded, skipped := wire.Decode(text)
	rows := uniqueRows(decoded)
	result := PullResult{Rows: len(decoded), Skipped: skipped}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("malformed rows skipped")
	}

	known := make(map[string]types.BookRecord)
	for _, b := range e.store.All() {
		if b.ISBN == "" {
			continue
		}
		if _, ok := known[b.ISBN]; !ok {
			known[b.ISBN] = b
		}
	}

	pulledAt := e.now().UTC()
	expanded := e.expand(ctx, rows, known, pulledAt)
	if err := ctx.Err(); err != nil {
		// A cancelled pull must not replace the collection with the rows
		// that happened to resolve.
		return PullResult{}, err
	}

	books := make([]types.BookRecord, 0, len(expanded))
	for i, x := range expanded {
		switch {
		case x.ok && x.hit:
			result.CacheHits++
		case x.ok:
			result.LookedUp++
		case x.err != nil:
			result.LookupFailed++
			logger.Warn().Err(x.err).Str("isbn", rows[i].ISBN).Msg("metadata lookup failed; row dropped")
			continue
		default:
			result.Unresolved++
			logger.Info().Str("isbn", rows[i].ISBN).Msg("isbn no longer resolves; row dropped")
			continue
		}
		books = append(books, x.record)
	}

	result.Books = e.store.Replace(books)
	e.outbox.Reset()
	e.mu.Lock()
	e.lastPull = pulledAt
	e.mu.Unlock()

	if err := e.store.Persist(ctx, e.cache); err != nil {
		return result, fmt.Errorf("pull: persist collection: %w", err)
	}

	logger.Info().
		Str("document", settings.RemoteID).
		Int("books", result.Books).
		Int("cache_hits", result.CacheHits).
		Int("looked_up", result.LookedUp).
		Int("dropped", result.Unresolved+result.LookupFailed).
		Msg("pull complete")
	return result, nil
}

// Push encodes the collection and writes it to the remote document, creating
// the document first when none is configured.
func (e *Engine) Push(ctx context.Context) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		droppedTriggers.WithLabelValues("push").Inc()
		return types.ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	ctx, span := tracer.Start(ctx, "reconcile.push")
	defer span.End()

	start := time.Now()
	err := e.push(ctx)
	observeSync("push", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.observe("push", e.store.Len())
	return nil
}

func (e *Engine) observe(op string, books int) {
	if e.observer != nil {
		e.observer.Synced(op, e.Settings().RemoteID, books)
	}
}

func (e *Engine) push(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx, e.logger)
	settings := e.Settings()
	seq, _ := e.outbox.Pending()
	text := wire.Encode(e.store.All())

	if settings.RemoteID == "" {
		id, err := e.remote.Create(ctx, settings.Credential, text)
		if err != nil {
			return fmt.Errorf("push: create document: %w", err)
		}
		settings.RemoteID = id
		e.mu.Lock()
		e.settings.RemoteID = id
		e.mu.Unlock()
		if err := e.cache.SaveSettings(ctx, settings); err != nil {
			logger.Error().Err(err).Str("document", id).Msg("failed to persist new document id")
		}
		logger.Info().Str("document", id).Msg("remote document created")
	} else if err := e.remote.Update(ctx, settings.RemoteID, settings.Credential, text); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	e.outbox.Ack(seq)

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, settings.RemoteID); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Str("document", settings.RemoteID).Msg("change notification failed")
		}
	}
	return nil
}
