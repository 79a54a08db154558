package collection

import (
	"context"
	"sort"
	"sync"

	"github.com/example/shelf-sync/internal/types"
)

// Store owns the in-memory book collection. Records are kept in insertion
// order, which is also the order of the encoded remote document.
type Store struct {
	mu    sync.RWMutex
	books []types.BookRecord
	index map[string]int

	// persistMu orders snapshot-then-save so the last save always carries the
	// newest snapshot.
	persistMu sync.Mutex
}

// NewStore constructs an empty collection.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// All returns a copy of every record in insertion order.
func (s *Store) All() []types.BookRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.books)
}

// Persist snapshots the collection and saves it through p. Concurrent callers
// are serialized, so a slow save can never overwrite a newer one.
func (s *Store) Persist(ctx context.Context, p Persister) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return p.SaveBooks(ctx, s.All())
}

// List returns the records with the given membership, newest first. An empty
// filter returns every record.
func (s *Store) List(filter types.Membership) []types.BookRecord {
	s.mu.RLock()
	out := make([]types.BookRecord, 0, len(s.books))
	for _, b := range s.books {
		if filter != types.MembershipNone && b.Membership != filter {
			continue
		}
		out = append(out, b.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out
}

// Get returns the record with id.
func (s *Store) Get(id string) (types.BookRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return types.BookRecord{}, false
	}
	return s.books[pos].Clone(), true
}

// FindByISBN returns the first record carrying isbn.
func (s *Store) FindByISBN(isbn string) (types.BookRecord, bool) {
	if isbn == "" {
		return types.BookRecord{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.books {
		if b.ISBN == isbn {
			return b.Clone(), true
		}
	}
	return types.BookRecord{}, false
}

// Insert appends rec unless a record with the same ID already exists.
func (s *Store) Insert(rec types.BookRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[rec.ID]; exists {
		return false
	}
	s.index[rec.ID] = len(s.books)
	s.books = append(s.books, rec.Clone())
	return true
}

// Update applies fn to the record with id in place and reports whether it was
// found.
func (s *Store) Update(id string, fn func(*types.BookRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	fn(&s.books[pos])
	s.books[pos].ID = id
	return true
}

// Delete removes the record with id.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.books = append(s.books[:pos], s.books[pos+1:]...)
	s.reindex()
	return true
}

// Replace swaps the whole collection. Later duplicates of an ID are dropped.
// It returns the number of records kept.
func (s *Store) Replace(books []types.BookRecord) int {
	next := make([]types.BookRecord, 0, len(books))
	seen := make(map[string]struct{}, len(books))
	for _, b := range books {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		next = append(next, b.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = next
	s.reindex()
	return len(next)
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.books))
	for i, b := range s.books {
		s.index[b.ID] = i
	}
}

func cloneAll(books []types.BookRecord) []types.BookRecord {
	out := make([]types.BookRecord, len(books))
	for i, b := range books {
		out[i] = b.Clone()
	}
	return out
}
