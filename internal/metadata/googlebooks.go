package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/types"
)

const (
	googleBooksBaseURL   = "https://www.googleapis.com/books/v1"
	googleBooksMaxResult = 40
)

// GoogleBooks is a Provider backed by the Google Books volumes API.
type GoogleBooks struct {
	client  httpClient
	baseURL string
	apiKey  string
}

// NewGoogleBooks constructs a Google Books client.
func NewGoogleBooks(cfg ClientConfig, logger zerolog.Logger) *GoogleBooks {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = googleBooksBaseURL
	}
	return &GoogleBooks{
		client:  newHTTPClient("googlebooks", cfg, classifyGoogle, logger),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			SmallThumbnail string `json:"smallThumbnail"`
			Thumbnail      string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// Search implements Provider.
func (g *GoogleBooks) Search(ctx context.Context, query string, maxResults int) ([]types.BookRecord, error) {
	if maxResults <= 0 || maxResults > googleBooksMaxResult {
		maxResults = googleBooksMaxResult
	}
	res, err := g.volumes(ctx, "search", query, maxResults)
	if err != nil {
		return nil, err
	}
	books := make([]types.BookRecord, 0, len(res.Items))
	for _, v := range res.Items {
		books = append(books, v.record())
	}
	return books, nil
}

// LookupByISBN implements Provider.
func (g *GoogleBooks) LookupByISBN(ctx context.Context, isbn string) (*types.BookRecord, error) {
	res, err := g.volumes(ctx, "lookup isbn", "isbn:"+isbn, 1)
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	rec := res.Items[0].record()
	if rec.ISBN == "" {
		rec.ISBN = isbn
	}
	return &rec, nil
}

func (g *GoogleBooks) volumes(ctx context.Context, op, query string, maxResults int) (*volumesResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("printType", "books")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}

	var res volumesResponse
	if err := g.client.getJSON(ctx, op, g.baseURL+"/volumes?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (v volume) record() types.BookRecord {
	info := v.VolumeInfo
	rec := types.BookRecord{
		ID:              v.ID,
		Title:           info.Title,
		PublicationYear: yearFrom(info.PublishedDate),
		Description:     info.Description,
		CoverImageURL:   secureURL(firstNonEmpty(info.ImageLinks.Thumbnail, info.ImageLinks.SmallThumbnail)),
	}
	if info.Subtitle != "" {
		rec.Title = info.Title + ": " + info.Subtitle
	}
	if len(info.Authors) > 0 {
		rec.Author = strings.Join(info.Authors, ", ")
	}
	var isbn10 string
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			rec.ISBN = id.Identifier
		case "ISBN_10":
			isbn10 = id.Identifier
		}
	}
	if rec.ISBN == "" {
		rec.ISBN = isbn10
	}
	return rec.WithDefaults()
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// classifyGoogle separates throttling from the daily quota, which Google
// reports as 403 with a reason code.
func classifyGoogle(op string, status int, body []byte) error {
	var payload googleError
	_ = json.Unmarshal(body, &payload)
	for _, e := range payload.Error.Errors {
		switch e.Reason {
		case "dailyLimitExceeded", "quotaExceeded", "dailyLimitExceededUnreg":
			return types.NewError(types.CodeQuotaExceeded, op, payload.Error.Message, nil)
		case "rateLimitExceeded", "userRateLimitExceeded":
			return types.NewError(types.CodeRateLimited, op, payload.Error.Message, nil)
		case "keyInvalid", "accessNotConfigured":
			return types.NewError(types.CodeUnauthorized, op, payload.Error.Message, nil)
		}
	}
	if status == http.StatusForbidden {
		return types.NewError(types.CodeUnauthorized, op, fmt.Sprintf("forbidden: %s", payload.Error.Message), nil)
	}
	return classifyCommon(op, status)
}

func secureURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		return "https://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
