// Package collection holds the in-memory book collection and the mutation
// operations applied to it.
package collection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/types"
)

// Persister durably stores the full collection after each mutation.
type Persister interface {
	SaveBooks(ctx context.Context, books []types.BookRecord) error
}

// AddResult describes a successful insert.
type AddResult struct {
	// LocalOnly is set when the record has no ISBN and will never be synced.
	LocalOnly bool
}

// Ops applies user mutations to the Store. Each mutation is persisted
// synchronously and then marked in the Outbox so the scheduler can push.
type Ops struct {
	store  *Store
	cache  Persister
	outbox *Outbox
	logger zerolog.Logger
	now    func() time.Time
}

// OpsOption configures Ops.
type OpsOption func(*Ops)

// WithClock overrides the time source used for addedAt.
func WithClock(now func() time.Time) OpsOption {
	return func(o *Ops) {
		o.now = now
	}
}

// NewOps constructs the mutation surface for a collection.
func NewOps(store *Store, cache Persister, outbox *Outbox, logger zerolog.Logger, opts ...OpsOption) *Ops {
	o := &Ops{
		store:  store,
		cache:  cache,
		outbox: outbox,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddBook inserts rec with the given membership. Adding an ID that already
// exists is a no-op that returns ErrAlreadyExists.
func (o *Ops) AddBook(ctx context.Context, rec types.BookRecord, membership types.Membership) (AddResult, error) {
	if rec.ID == "" {
		return AddResult{}, types.NewError(types.CodeValidation, "add book", "record id is required", nil)
	}
	if !membership.Valid() {
		return AddResult{}, types.NewError(types.CodeValidation, "add book", fmt.Sprintf("invalid membership %q", membership), nil)
	}

	rec = rec.Clone().WithDefaults()
	rec.Membership = membership
	rec.AddedAt = o.now().UTC()
	rec.Tags = sanitizeTags(rec.Tags)

	if !o.store.Insert(rec) {
		o.logger.Info().Str("book", rec.ID).Msg("book already in collection")
		return AddResult{}, types.NewError(types.CodeAlreadyExists, "add book", fmt.Sprintf("%q is already in your lists", rec.Title), nil)
	}

	result := AddResult{LocalOnly: !rec.Syncable()}
	if result.LocalOnly {
		o.logger.Warn().Str("book", rec.ID).Str("title", rec.Title).Msg("book has no ISBN; it will stay on this device only")
	}
	return result, o.commit(ctx, "add book")
}

// ChangeStatus moves a record to another list and refreshes addedAt.
func (o *Ops) ChangeStatus(ctx context.Context, id string, membership types.Membership) (bool, error) {
	if !membership.Valid() {
		return false, types.NewError(types.CodeValidation, "change status", fmt.Sprintf("invalid membership %q", membership), nil)
	}
	now := o.now().UTC()
	found := o.store.Update(id, func(b *types.BookRecord) {
		b.Membership = membership
		b.AddedAt = now
	})
	if !found {
		return false, nil
	}
	return true, o.commit(ctx, "change status")
}

// SetRating replaces the rating. A rating outside 1..10 (including zero)
// clears it.
func (o *Ops) SetRating(ctx context.Context, id string, rating types.Rating) (bool, error) {
	if !rating.Valid() {
		rating = 0
	}
	found := o.store.Update(id, func(b *types.BookRecord) {
		b.Rating = rating
	})
	if !found {
		return false, nil
	}
	return true, o.commit(ctx, "set rating")
}

// Remove deletes a record entirely.
func (o *Ops) Remove(ctx context.Context, id string) (bool, error) {
	if !o.store.Delete(id) {
		return false, nil
	}
	return true, o.commit(ctx, "remove book")
}

// AddTag adds a free-form tag. Reserved membership and rating strings are
// rejected, as are characters that would break the remote document.
func (o *Ops) AddTag(ctx context.Context, id, tag string) (bool, error) {
	tag = strings.TrimSpace(tag)
	if err := validateTag(tag); err != nil {
		return false, err
	}
	changed := false
	found := o.store.Update(id, func(b *types.BookRecord) {
		if b.HasTag(tag) {
			return
		}
		b.Tags = append(b.Tags, tag)
		changed = true
	})
	if !found || !changed {
		return found, nil
	}
	return true, o.commit(ctx, "add tag")
}

// RemoveTag removes a free-form tag.
func (o *Ops) RemoveTag(ctx context.Context, id, tag string) (bool, error) {
	tag = strings.TrimSpace(tag)
	changed := false
	found := o.store.Update(id, func(b *types.BookRecord) {
		kept := b.Tags[:0]
		for _, t := range b.Tags {
			if t == tag {
				changed = true
				continue
			}
			kept = append(kept, t)
		}
		b.Tags = kept
	})
	if !found || !changed {
		return found, nil
	}
	return true, o.commit(ctx, "remove tag")
}

// commit persists the collection and marks it for push. The in-memory change
// stands even when persistence fails.
func (o *Ops) commit(ctx context.Context, op string) error {
	err := o.store.Persist(ctx, o.cache)
	seq := o.outbox.Mark()
	if err != nil {
		o.logger.Error().Err(err).Str("op", op).Msg("failed to persist collection")
		return fmt.Errorf("%s: persist collection: %w", op, err)
	}
	o.logger.Debug().Str("op", op).Uint64("seq", seq).Msg("collection persisted")
	return nil
}

func validateTag(tag string) error {
	if tag == "" {
		return types.NewError(types.CodeValidation, "tag", "tag must not be empty", nil)
	}
	if strings.ContainsAny(tag, "\t\n\r,") {
		return types.NewError(types.CodeValidation, "tag", fmt.Sprintf("tag %q contains a tab, newline or comma", tag), nil)
	}
	if types.IsReservedTag(tag) {
		return types.NewError(types.CodeValidation, "tag", fmt.Sprintf("tag %q is reserved", tag), nil)
	}
	return nil
}

func sanitizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if validateTag(t) != nil {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
