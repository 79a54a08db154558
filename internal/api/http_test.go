package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/localcache"
	"github.com/example/shelf-sync/internal/reconcile"
	"github.com/example/shelf-sync/internal/types"
)

type stubProvider struct {
	records map[string]types.BookRecord
}

func (p stubProvider) Search(_ context.Context, query string, _ int) ([]types.BookRecord, error) {
	var out []types.BookRecord
	for _, r := range p.records {
		if strings.Contains(strings.ToLower(r.Title), strings.ToLower(query)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p stubProvider) LookupByISBN(_ context.Context, isbn string) (*types.BookRecord, error) {
	rec, ok := p.records[isbn]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type stubSync struct {
	pullErr error
	pushed  chan struct{}
	focused int
}

func (s *stubSync) PullNow(context.Context) (reconcile.PullResult, error) {
	return reconcile.PullResult{Books: 2}, s.pullErr
}

func (s *stubSync) PushNow(context.Context) error {
	s.pushed <- struct{}{}
	return nil
}

func (s *stubSync) Focus() { s.focused++ }

type stubStatus struct{}

func (stubStatus) Settings() types.SyncSettings { return types.SyncSettings{RemoteID: "doc"} }
func (stubStatus) LastPull() time.Time          { return time.Time{} }
func (stubStatus) InFlight() bool               { return false }

func newTestHandler(t *testing.T) (*Handler, *collection.Store, *stubSync) {
	t.Helper()
	store := collection.NewStore()
	ops := collection.NewOps(store, localcache.NewMemory(), collection.NewOutbox(), zerolog.New(io.Discard))
	sync := &stubSync{pushed: make(chan struct{}, 1)}
	h := NewHandler(Deps{
		Store: store,
		Ops:   ops,
		Provider: stubProvider{records: map[string]types.BookRecord{
			"9780547928227": {ID: "vol-hobbit", ISBN: "9780547928227", Title: "The Hobbit"},
		}},
		Sync:   sync,
		Status: stubStatus{},
	}, zerolog.New(io.Discard))
	return h, store, sync
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func TestAddByISBNAndList(t *testing.T) {
	h, store, _ := newTestHandler(t)

	rec := do(h, http.MethodPost, "/books", `{"isbn":"9780547928227","status":"to_read"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 1, store.Len())

	rec = do(h, http.MethodPost, "/books", `{"isbn":"9780547928227","status":"to_read"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, store.Len())

	rec = do(h, http.MethodGet, "/books?status=to_read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var books []types.BookRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &books))
	require.Len(t, books, 1)
	assert.Equal(t, "The Hobbit", books[0].Title)

	rec = do(h, http.MethodGet, "/books?status=read", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &books))
	assert.Empty(t, books)
}

func TestAddUnknownISBN(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := do(h, http.MethodPost, "/books", `{"isbn":"000","status":"read"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateStatusAndRating(t *testing.T) {
	h, store, _ := newTestHandler(t)
	store.Insert(types.BookRecord{ID: "a", ISBN: "1", Membership: types.MembershipToRead})

	rec := do(h, http.MethodPatch, "/books/a", `{"status":"read","rating":8}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book, _ := store.Get("a")
	assert.Equal(t, types.MembershipRead, book.Membership)
	assert.Equal(t, types.Rating(8), book.Rating)

	rec = do(h, http.MethodPatch, "/books/missing", `{"status":"read"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTags(t *testing.T) {
	h, store, _ := newTestHandler(t)
	store.Insert(types.BookRecord{ID: "a", ISBN: "1"})

	rec := do(h, http.MethodPost, "/books/a/tags", `{"tag":"read"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/books/a/tags", `{"tag":"favourite"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	book, _ := store.Get("a")
	assert.Equal(t, []string{"favourite"}, book.Tags)

	rec = do(h, http.MethodDelete, "/books/a/tags/favourite", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	book, _ = store.Get("a")
	assert.Empty(t, book.Tags)
}

func TestRemoveBook(t *testing.T) {
	h, store, _ := newTestHandler(t)
	store.Insert(types.BookRecord{ID: "a"})

	assert.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/books/a", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/books/a", "").Code)
}

func TestSyncEndpoints(t *testing.T) {
	h, _, sync := newTestHandler(t)

	rec := do(h, http.MethodPost, "/sync/pull", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"books":2`)

	sync.pullErr = types.NewError(types.CodeUnauthorized, "pull", "bad token", nil)
	rec = do(h, http.MethodPost, "/sync/pull", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	sync.pullErr = types.ErrSyncInFlight
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/sync/pull", "").Code)

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/sync/push", "").Code)
	select {
	case <-sync.pushed:
	case <-time.After(time.Second):
		t.Fatal("push was not dispatched")
	}

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/focus", "").Code)
	assert.Equal(t, 1, sync.focused)
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := do(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Configured)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/sync/pull", "").Code)
}
