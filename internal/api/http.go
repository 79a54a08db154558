// Package api is the daemon's local HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/metadata"
	"github.com/example/shelf-sync/internal/reconcile"
	"github.com/example/shelf-sync/internal/types"
)

// Syncer triggers sync work on behalf of a client.
type Syncer interface {
	PullNow(ctx context.Context) (reconcile.PullResult, error)
	PushNow(ctx context.Context) error
	Focus()
}

// Status exposes engine state for the health endpoint.
type Status interface {
	Settings() types.SyncSettings
	LastPull() time.Time
	InFlight() bool
}

// Deps bundles what the handler serves.
type Deps struct {
	Store    *collection.Store
	Ops      *collection.Ops
	Provider metadata.Provider
	Sync     Syncer
	Status   Status
}

// Handler routes the control API.
type Handler struct {
	deps   Deps
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the handler.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	h := &Handler{deps: deps, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /books", h.listBooks)
	h.mux.HandleFunc("POST /books", h.addBook)
	h.mux.HandleFunc("GET /books/{id}", h.getBook)
	h.mux.HandleFunc("PATCH /books/{id}", h.updateBook)
	h.mux.HandleFunc("DELETE /books/{id}", h.removeBook)
	h.mux.HandleFunc("POST /books/{id}/tags", h.addTag)
	h.mux.HandleFunc("DELETE /books/{id}/tags/{tag}", h.removeTag)
	h.mux.HandleFunc("GET /search", h.search)
	h.mux.HandleFunc("POST /sync/pull", h.pull)
	h.mux.HandleFunc("POST /sync/push", h.push)
	h.mux.HandleFunc("POST /focus", h.focus)
	h.mux.HandleFunc("GET /healthz", h.health)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	filter := types.MembershipNone
	if raw := r.URL.Query().Get("status"); raw != "" {
		m, ok := types.ParseMembership(raw)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter = m
	}
	writeJSON(w, http.StatusOK, h.deps.Store.List(filter))
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.deps.Store.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

type addRequest struct {
	ISBN   string            `json:"isbn"`
	Book   *types.BookRecord `json:"book"`
	Status string            `json:"status"`
}

func (h *Handler) addBook(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	membership, ok := types.ParseMembership(req.Status)
	if !ok {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	var rec types.BookRecord
	switch {
	case req.Book != nil:
		rec = *req.Book
	case req.ISBN != "":
		found, err := h.deps.Provider.LookupByISBN(r.Context(), req.ISBN)
		if err != nil {
			h.fail(w, "lookup isbn", err)
			return
		}
		if found == nil {
			http.Error(w, "no book found for isbn", http.StatusNotFound)
			return
		}
		rec = *found
		if rec.ID == "" {
			rec.ID = "isbn:" + req.ISBN
		}
	default:
		http.Error(w, "isbn or book is required", http.StatusBadRequest)
		return
	}

	result, err := h.deps.Ops.AddBook(r.Context(), rec, membership)
	if err != nil && types.CodeOf(err) != "" {
		h.fail(w, "add book", err)
		return
	}
	if err != nil {
		// Persisting failed but the record is in the collection.
		h.logger.Error().Err(err).Str("book", rec.ID).Msg("book added but not persisted")
	}
	book, _ := h.deps.Store.Get(rec.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"book": book, "localOnly": result.LocalOnly})
}

type updateRequest struct {
	Status *string `json:"status"`
	Rating *int    `json:"rating"`
}

func (h *Handler) updateBook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if req.Status != nil {
		membership, ok := types.ParseMembership(*req.Status)
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		found, err := h.deps.Ops.ChangeStatus(r.Context(), id, membership)
		if !h.mutated(w, r, "change status", found, err) {
			return
		}
	}
	if req.Rating != nil {
		found, err := h.deps.Ops.SetRating(r.Context(), id, types.Rating(*req.Rating))
		if !h.mutated(w, r, "set rating", found, err) {
			return
		}
	}

	book, ok := h.deps.Store.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) removeBook(w http.ResponseWriter, r *http.Request) {
	found, err := h.deps.Ops.Remove(r.Context(), r.PathValue("id"))
	if !h.mutated(w, r, "remove book", found, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	found, err := h.deps.Ops.AddTag(r.Context(), id, req.Tag)
	if !h.mutated(w, r, "add tag", found, err) {
		return
	}
	book, _ := h.deps.Store.Get(id)
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) removeTag(w http.ResponseWriter, r *http.Request) {
	found, err := h.deps.Ops.RemoveTag(r.Context(), r.PathValue("id"), r.PathValue("tag"))
	if !h.mutated(w, r, "remove tag", found, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	books, err := h.deps.Provider.Search(r.Context(), query, 20)
	if err != nil {
		h.fail(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Sync.PullNow(r.Context())
	if err != nil {
		h.fail(w, "pull", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// push is best effort: the request returns before the push finishes and a
// failure is only logged.
func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.deps.Sync.PushNow(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("requested push failed")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) focus(w http.ResponseWriter, r *http.Request) {
	h.deps.Sync.Focus()
	w.WriteHeader(http.StatusAccepted)
}

type healthResponse struct {
	Status     string `json:"status"`
	Books      int    `json:"books"`
	Configured bool   `json:"configured"`
	InFlight   bool   `json:"inFlight"`
	LastPull   string `json:"lastPull,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Books:      h.deps.Store.Len(),
		Configured: h.deps.Status.Settings().Configured(),
		InFlight:   h.deps.Status.InFlight(),
		LastPull:   types.FormatTimestamp(h.deps.Status.LastPull()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// mutated writes the failure response for a mutation and reports whether the
// handler should continue.
func (h *Handler) mutated(w http.ResponseWriter, r *http.Request, op string, found bool, err error) bool {
	if err != nil && types.CodeOf(err) != "" {
		h.fail(w, op, err)
		return false
	}
	if !found {
		http.NotFound(w, r)
		return false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("op", op).Msg("mutation applied but not persisted")
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("op", op).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(types.CodeOf(err)),
	})
}

func statusFor(err error) int {
	switch types.CodeOf(err) {
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeUnauthorized:
		return http.StatusUnauthorized
	case types.CodeRateLimited, types.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case types.CodeNetwork, types.CodeMalformed:
		return http.StatusBadGateway
	case types.CodeAlreadyExists, types.CodeNotConfigured, types.CodeBusy:
		return http.StatusConflict
	case types.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
