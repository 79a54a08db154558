package metadata

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shelf-sync/internal/types"
)

func TestOpenLibrary_LookupByISBN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/books", r.URL.Path)
		assert.Equal(t, "ISBN:9780547928227", r.URL.Query().Get("bibkeys"))
		w.Write([]byte(`{"ISBN:9780547928227": {
			"key": "/books/OL26331930M",
			"title": "The Hobbit",
			"publish_date": "September 2012",
			"authors": [{"name": "J.R.R. Tolkien"}],
			"cover": {"large": "https://covers.openlibrary.org/b/id/1-L.jpg"}
		}}`))
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL}, zerolog.New(io.Discard))
	rec, err := client.LookupByISBN(context.Background(), "9780547928227")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ol:OL26331930M", rec.ID)
	assert.Equal(t, "2012", rec.PublicationYear)
	assert.Equal(t, "J.R.R. Tolkien", rec.Author)
	assert.Equal(t, "https://covers.openlibrary.org/b/id/1-L.jpg", rec.CoverImageURL)
}

func TestOpenLibrary_LookupMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL}, zerolog.New(io.Discard))
	rec, err := client.LookupByISBN(context.Background(), "0000000000")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestOpenLibrary_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		w.Write([]byte(`{"numFound": 1, "docs": [{
			"key": "/works/OL27482W", "title": "The Hobbit", "author_name": ["J.R.R. Tolkien"],
			"isbn": ["9780547928227"], "first_publish_year": 1937, "cover_i": 14627509
		}]}`))
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL}, zerolog.New(io.Discard))
	books, err := client.Search(context.Background(), "hobbit", 3)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "ol:OL27482W", books[0].ID)
	assert.Equal(t, "1937", books[0].PublicationYear)
	assert.Equal(t, "https://covers.openlibrary.org/b/id/14627509-M.jpg", books[0].CoverImageURL)
}

func TestOpenLibrary_Throttled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL}, zerolog.New(io.Discard))
	_, err := client.LookupByISBN(context.Background(), "9780547928227")
	assert.ErrorIs(t, err, types.ErrRateLimited)
}

func TestOpenLibrary_CanceledContextIsNotRateLimited(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL, RPS: 1, Burst: 1}, zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.LookupByISBN(ctx, "9780547928227")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrRateLimited)
	assert.Zero(t, calls)
}

func TestOpenLibrary_LimiterBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewOpenLibrary(ClientConfig{BaseURL: server.URL, RPS: 0.01, Burst: 1}, zerolog.New(io.Discard))
	_, err := client.LookupByISBN(context.Background(), "9780547928227")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = client.LookupByISBN(ctx, "9780547928227")
	assert.ErrorIs(t, err, types.ErrRateLimited)
}
