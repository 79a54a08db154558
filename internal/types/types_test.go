package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRatingTagRoundTrip(t *testing.T) {
	for r := MinRating; r <= MaxRating; r++ {
		tag := r.Tag()
		got, ok := ParseRatingTag(tag)
		if !ok || got != r {
			t.Fatalf("rating %d: tag %q parsed to %d, ok=%v", r, tag, got, ok)
		}
	}
	if Rating(0).Tag() != "" || Rating(11).Tag() != "" {
		t.Fatalf("out of range ratings must not encode")
	}
	for _, bad := range []string{"00_stars", "11_stars", "8_stars", "ab_stars", "08_star", "08"} {
		if _, ok := ParseRatingTag(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestReservedTags(t *testing.T) {
	for _, tag := range []string{"to_read", "reading", "read", "07_stars"} {
		if !IsReservedTag(tag) {
			t.Fatalf("expected %q to be reserved", tag)
		}
	}
	if IsReservedTag("fantasy") {
		t.Fatalf("free tag reported as reserved")
	}
}

func TestBookRecordJSONRoundTrip(t *testing.T) {
	in := BookRecord{
		ID:         "X1",
		ISBN:       "9780547928227",
		Title:      "The Hobbit",
		Author:     "J.R.R. Tolkien",
		Membership: MembershipRead,
		Rating:     9,
		Tags:       []string{"fantasy"},
		AddedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["addedAt"] != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("unexpected addedAt encoding %v", raw["addedAt"])
	}
	if raw["coverImageUrl"] != nil {
		t.Fatalf("expected null cover, got %v", raw["coverImageUrl"])
	}

	var out BookRecord
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Membership != in.Membership || out.Rating != in.Rating || !out.AddedAt.Equal(in.AddedAt) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestVisibleRatingOnlyForRead(t *testing.T) {
	b := BookRecord{Membership: MembershipReading, Rating: 7}
	if b.VisibleRating() != 0 {
		t.Fatalf("rating must be hidden for non-read records")
	}
	b.Membership = MembershipRead
	if b.VisibleRating() != 7 {
		t.Fatalf("rating must be visible for read records")
	}
}

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("pull: %w", NewError(CodeRateLimited, "fetch", "slow down", errors.New("429")))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected not found match")
	}
	if CodeOf(err) != CodeRateLimited {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}
