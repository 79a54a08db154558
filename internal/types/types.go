package types

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// UnknownAuthor is used when the metadata provider returns no author.
	UnknownAuthor = "Unknown Author"
	// UnknownYear is used when the metadata provider returns no publication date.
	UnknownYear = "N/A"

	// TimestampLayout is the ISO-8601 form used for addedAt on the wire and in
	// the local cache.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Membership is the reading-status list a record belongs to.
type Membership string

const (
	MembershipNone    Membership = ""
	MembershipToRead  Membership = "to_read"
	MembershipReading Membership = "reading"
	MembershipRead    Membership = "read"
)

// ParseMembership converts a wire tag into a Membership.
func ParseMembership(raw string) (Membership, bool) {
	switch m := Membership(raw); m {
	case MembershipToRead, MembershipReading, MembershipRead:
		return m, true
	default:
		return MembershipNone, false
	}
}

// Valid reports whether m is one of the three list memberships.
func (m Membership) Valid() bool {
	_, ok := ParseMembership(string(m))
	return ok
}

// Rating is a 1..10 score. The zero value means unrated.
type Rating int

const (
	MinRating Rating = 1
	MaxRating Rating = 10

	ratingSuffix = "_stars"
)

// Valid reports whether r is inside the 1..10 range.
func (r Rating) Valid() bool {
	return r >= MinRating && r <= MaxRating
}

// Tag returns the wire encoding of the rating, e.g. "08_stars".
func (r Rating) Tag() string {
	if !r.Valid() {
		return ""
	}
	return fmt.Sprintf("%02d%s", int(r), ratingSuffix)
}

// ParseRatingTag decodes a rating tag. Only two-digit numerals in range are
// accepted.
func ParseRatingTag(tag string) (Rating, bool) {
	if len(tag) != 2+len(ratingSuffix) || tag[2:] != ratingSuffix {
		return 0, false
	}
	if tag[0] < '0' || tag[0] > '9' || tag[1] < '0' || tag[1] > '9' {
		return 0, false
	}
	r := Rating(int(tag[0]-'0')*10 + int(tag[1]-'0'))
	if !r.Valid() {
		return 0, false
	}
	return r, true
}

// IsReservedTag reports whether tag collides with the membership or rating
// encodings and therefore cannot be used as a free-form tag.
func IsReservedTag(tag string) bool {
	if _, ok := ParseMembership(tag); ok {
		return true
	}
	_, ok := ParseRatingTag(tag)
	return ok
}

// BookRecord is the full in-memory entity.
type BookRecord struct {
	ID              string
	ISBN            string
	Title           string
	Author          string
	PublicationYear string
	CoverImageURL   string
	Description     string
	Membership      Membership
	Rating          Rating
	Tags            []string
	AddedAt         time.Time
}

// Syncable reports whether the record can be represented in the remote
// document.
func (b BookRecord) Syncable() bool {
	return b.ISBN != ""
}

// VisibleRating returns the rating exposed to users, which only applies to
// finished books.
func (b BookRecord) VisibleRating() Rating {
	if b.Membership != MembershipRead {
		return 0
	}
	return b.Rating
}

// HasTag reports whether the free-form tag set contains tag.
func (b BookRecord) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share the tag slice.
func (b BookRecord) Clone() BookRecord {
	if b.Tags != nil {
		tags := make([]string, len(b.Tags))
		copy(tags, b.Tags)
		b.Tags = tags
	}
	return b
}

// WithDefaults fills the display sentinels for missing author and year.
func (b BookRecord) WithDefaults() BookRecord {
	if b.Author == "" {
		b.Author = UnknownAuthor
	}
	if b.PublicationYear == "" {
		b.PublicationYear = UnknownYear
	}
	return b
}

// FormatTimestamp renders t in the cache and wire layout. The zero time renders
// as an empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

type bookJSON struct {
	ID              string   `json:"id"`
	ISBN            string   `json:"isbn,omitempty"`
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	PublicationYear string   `json:"publicationYear"`
	CoverImageURL   *string  `json:"coverImageUrl"`
	Description     string   `json:"description,omitempty"`
	Membership      string   `json:"membership,omitempty"`
	Rating          int      `json:"rating,omitempty"`
	Tags            []string `json:"tags"`
	AddedAt         string   `json:"addedAt,omitempty"`
}

// MarshalJSON serializes a BookRecord for the local cache.
func (b BookRecord) MarshalJSON() ([]byte, error) {
	payload := bookJSON{
		ID:              b.ID,
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		Description:     b.Description,
		Membership:      string(b.Membership),
		Rating:          int(b.Rating),
		Tags:            b.Tags,
		AddedAt:         FormatTimestamp(b.AddedAt),
	}
	if b.CoverImageURL != "" {
		cover := b.CoverImageURL
		payload.CoverImageURL = &cover
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	return json.Marshal(payload)
}

// UnmarshalJSON deserializes a BookRecord from the local cache representation.
func (b *BookRecord) UnmarshalJSON(data []byte) error {
	var payload bookJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode book record: %w", err)
	}
	membership, _ := ParseMembership(payload.Membership)
	rating := Rating(payload.Rating)
	if !rating.Valid() {
		rating = 0
	}

	*b = BookRecord{
		ID:              payload.ID,
		ISBN:            payload.ISBN,
		Title:           payload.Title,
		Author:          payload.Author,
		PublicationYear: payload.PublicationYear,
		Description:     payload.Description,
		Membership:      membership,
		Rating:          rating,
		Tags:            payload.Tags,
	}
	if payload.CoverImageURL != nil {
		b.CoverImageURL = *payload.CoverImageURL
	}
	if payload.AddedAt != "" {
		addedAt, err := ParseTimestamp(payload.AddedAt)
		if err != nil {
			return fmt.Errorf("decode addedAt: %w", err)
		}
		b.AddedAt = addedAt
	}
	return nil
}

// SyncSettings holds the remote document identity and credential. It is
// persisted independently from the book collection.
type SyncSettings struct {
	RemoteID   string `json:"remoteId,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Configured reports whether a remote document has been created or assigned.
func (s SyncSettings) Configured() bool {
	return s.RemoteID != ""
}
