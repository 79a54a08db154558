// Package wire converts between book records and the compact tab-separated
// document kept in the remote store.
package wire

import (
	"strings"
	"time"

	"github.com/example/shelf-sync/internal/types"
)

// Header is the fixed first line of every remote document.
const Header = "isbn\ttags\taddedAt"

const (
	columnSep = "\t"
	tagSep    = ","
)

// Row is one decoded line of the remote document.
type Row struct {
	ISBN       string
	Membership types.Membership
	Rating     types.Rating
	Tags       []string
	// AddedAt is zero when the column was missing or unparseable.
	AddedAt time.Time
}

// Encode serializes the records that carry an ISBN, in collection order.
func Encode(books []types.BookRecord) string {
	var sb strings.Builder
	sb.WriteString(Header)
	for _, b := range books {
		if !b.Syncable() {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(b.ISBN)
		sb.WriteString(columnSep)
		sb.WriteString(strings.Join(EncodeTags(b), tagSep))
		sb.WriteString(columnSep)
		sb.WriteString(types.FormatTimestamp(b.AddedAt))
	}
	return sb.String()
}

// EncodeTags flattens the structured membership and rating back into the tag
// list: free tags first, then membership, then rating.
func EncodeTags(b types.BookRecord) []string {
	tags := make([]string, 0, len(b.Tags)+2)
	for _, t := range b.Tags {
		if t == "" || types.IsReservedTag(t) {
			continue
		}
		tags = append(tags, t)
	}
	if b.Membership.Valid() {
		tags = append(tags, string(b.Membership))
	}
	if b.Rating.Valid() {
		tags = append(tags, b.Rating.Tag())
	}
	return tags
}

// Decode parses a remote document. Lines with fewer than two columns or an
// empty ISBN are skipped and counted; they never fail the whole document.
func Decode(text string) (rows []Row, skipped int) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if i == 0 && line == Header {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, columnSep)
		if len(fields) < 2 {
			skipped++
			continue
		}
		isbn := strings.TrimSpace(fields[0])
		if isbn == "" {
			skipped++
			continue
		}

		row := Row{ISBN: isbn}
		row.Membership, row.Rating, row.Tags = DecodeTags(fields[1])
		if len(fields) > 2 && fields[2] != "" {
			if ts, err := types.ParseTimestamp(strings.TrimSpace(fields[2])); err == nil {
				row.AddedAt = ts
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped
}

// DecodeTags splits a tag column into the structured membership, rating and
// free-form tag set. When a document carries more than one membership or
// rating tag, the last one wins.
func DecodeTags(column string) (types.Membership, types.Rating, []string) {
	var (
		membership types.Membership
		rating     types.Rating
		tags       []string
	)
	if column == "" {
		return membership, rating, tags
	}
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(column, tagSep) {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if m, ok := types.ParseMembership(tag); ok {
			membership = m
			continue
		}
		if r, ok := types.ParseRatingTag(tag); ok {
			rating = r
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return membership, rating, tags
}
