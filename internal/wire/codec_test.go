package wire

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/example/shelf-sync/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	added := time.Date(2024, 3, 9, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	books := []types.BookRecord{
		{ID: "a", ISBN: "9780547928227", Membership: types.MembershipRead, Rating: 10, Tags: []string{"fantasy", "classic"}, AddedAt: added},
		{ID: "b", ISBN: "", Membership: types.MembershipToRead, AddedAt: added},
		{ID: "c", ISBN: "9780441172719", Membership: types.MembershipReading, AddedAt: added.Add(time.Hour)},
		{ID: "d", ISBN: "9780307474278", Tags: []string{"noir"}, AddedAt: added},
	}

	rows, skipped := Decode(Encode(books))
	if skipped != 0 {
		t.Fatalf("expected no skipped rows, got %d", skipped)
	}

	want := []types.BookRecord{books[0], books[2], books[3]}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, row := range rows {
		b := want[i]
		if row.ISBN != b.ISBN {
			t.Fatalf("row %d: isbn %q, want %q", i, row.ISBN, b.ISBN)
		}
		if row.Membership != b.Membership || row.Rating != b.Rating {
			t.Fatalf("row %d: membership/rating %q/%d, want %q/%d", i, row.Membership, row.Rating, b.Membership, b.Rating)
		}
		if !sameSet(row.Tags, b.Tags) {
			t.Fatalf("row %d: tags %v, want %v", i, row.Tags, b.Tags)
		}
		if !row.AddedAt.Equal(b.AddedAt) {
			t.Fatalf("row %d: addedAt %v, want %v", i, row.AddedAt, b.AddedAt)
		}
	}
}

func TestEncodeOmitsRecordsWithoutISBN(t *testing.T) {
	text := Encode([]types.BookRecord{{ID: "X1", Title: "Zine", Membership: types.MembershipToRead}})
	if text != Header {
		t.Fatalf("expected header only, got %q", text)
	}
}

func TestEncodeExactLayout(t *testing.T) {
	text := Encode([]types.BookRecord{{
		ID:         "vol-1",
		ISBN:       "9780547928227",
		Membership: types.MembershipToRead,
		AddedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	want := "isbn\ttags\taddedAt\n9780547928227\tto_read\t2024-01-01T00:00:00.000Z"
	if text != want {
		t.Fatalf("unexpected encoding:\n%q\nwant\n%q", text, want)
	}
}

func TestEncodeTagOrder(t *testing.T) {
	tags := EncodeTags(types.BookRecord{Tags: []string{"b", "a"}, Membership: types.MembershipRead, Rating: 3})
	if strings.Join(tags, ",") != "b,a,read,03_stars" {
		t.Fatalf("unexpected tag order %v", tags)
	}
}

func TestDecodeSkipsMalformedLines(t *testing.T) {
	text := strings.Join([]string{
		Header,
		"9780547928227\tto_read\t2024-01-01T00:00:00.000Z",
		"garbage-without-tabs",
		"",
		"\tread\t2024-01-01T00:00:00.000Z",
		"9780441172719\t",
		"9780307474278\tread,05_stars\tnot-a-time\r",
	}, "\n")

	rows, skipped := Decode(text)
	if skipped != 2 {
		t.Fatalf("expected 2 skipped lines, got %d", skipped)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].ISBN != "9780441172719" || rows[1].Membership != types.MembershipNone || len(rows[1].Tags) != 0 {
		t.Fatalf("empty tag column must decode to an empty set: %+v", rows[1])
	}
	if rows[2].Rating != 5 || rows[2].Membership != types.MembershipRead || !rows[2].AddedAt.IsZero() {
		t.Fatalf("unexpected third row %+v", rows[2])
	}
}

func TestDecodeSkipsBlankISBN(t *testing.T) {
	text := Header + "\n \tread\t2024-01-01T00:00:00.000Z\n  \treading\n 9780547928227 \tto_read\t"

	rows, skipped := Decode(text)
	if skipped != 2 {
		t.Fatalf("expected 2 skipped lines, got %d", skipped)
	}
	if len(rows) != 1 || rows[0].ISBN != "9780547928227" {
		t.Fatalf("expected only the trimmed ISBN row, got %+v", rows)
	}
}

func TestDecodeTagsCollapsesDuplicates(t *testing.T) {
	m, r, tags := DecodeTags("scifi,to_read,scifi,reading,02_stars,07_stars")
	if m != types.MembershipReading || r != 7 {
		t.Fatalf("expected last membership/rating to win, got %q/%d", m, r)
	}
	if len(tags) != 1 || tags[0] != "scifi" {
		t.Fatalf("unexpected free tags %v", tags)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
