// Package metadata resolves book display metadata from external catalogues.
package metadata

import (
	"context"
	"regexp"

	"github.com/example/shelf-sync/internal/types"
)

// Provider is a keyed lookup service for book metadata. Candidates are
// returned as BookRecords without membership, rating or addedAt.
type Provider interface {
	// Search returns up to maxResults candidates for a free-text query.
	Search(ctx context.Context, query string, maxResults int) ([]types.BookRecord, error)
	// LookupByISBN returns nil, nil when the ISBN does not resolve.
	LookupByISBN(ctx context.Context, isbn string) (*types.BookRecord, error)
}

var yearPattern = regexp.MustCompile(`\d{4}`)

// yearFrom extracts the first four-digit year of a free-form date.
func yearFrom(date string) string {
	return yearPattern.FindString(date)
}
