package reconcile

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/shelf-sync/internal/types"
	"github.com/example/shelf-sync/internal/wire"
)

type expansion struct {
	record types.BookRecord
	ok     bool
	hit    bool
	err    error
}

// expand resolves every row to a full record. Rows whose ISBN is already in
// known reuse that record's display metadata; the rest are looked up
// concurrently. Every lookup settles before expand returns, and a failed or
// empty lookup only drops its own row.
func (e *Engine) expand(ctx context.Context, rows []wire.Row, known map[string]types.BookRecord, pulledAt time.Time) []expansion {
	results := make([]expansion, len(rows))

	var g errgroup.Group
	if e.lookupLimit > 0 {
		g.SetLimit(e.lookupLimit)
	}

	for i, row := range rows {
		if rec, ok := known[row.ISBN]; ok {
			results[i] = expansion{record: applyRow(rec, row, pulledAt), ok: true, hit: true}
			continue
		}
		g.Go(func() error {
			rec, err := e.provider.LookupByISBN(ctx, row.ISBN)
			switch {
			case err != nil:
				results[i] = expansion{err: err}
			case rec == nil:
				results[i] = expansion{}
			default:
				found := *rec
				if found.ID == "" {
					found.ID = "isbn:" + row.ISBN
				}
				results[i] = expansion{record: applyRow(found, row, pulledAt), ok: true}
			}
			return nil
		})
	}
	// Each lookup keeps its failure on its own row and returns nil, so Wait
	// only blocks until every row has settled.
	g.Wait()
	return results
}

// applyRow overlays the synced fields of row onto a record carrying display
// metadata.
func applyRow(rec types.BookRecord, row wire.Row, pulledAt time.Time) types.BookRecord {
	out := rec.Clone()
	out.ISBN = row.ISBN
	out.Membership = row.Membership
	out.Rating = row.Rating
	out.Tags = append([]string(nil), row.Tags...)
	out.AddedAt = row.AddedAt
	if out.AddedAt.IsZero() {
		out.AddedAt = pulledAt
	}
	return out.WithDefaults()
}

// uniqueRows keeps the first row for each ISBN.
func uniqueRows(rows []wire.Row) []wire.Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		if _, dup := seen[row.ISBN]; dup {
			continue
		}
		seen[row.ISBN] = struct{}{}
		out = append(out, row)
	}
	return out
}
