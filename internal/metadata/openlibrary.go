package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/types"
)

const openLibraryBaseURL = "https://openlibrary.org"

// OpenLibrary is a Provider backed by openlibrary.org.
type OpenLibrary struct {
	client  httpClient
	baseURL string
}

// NewOpenLibrary constructs an Open Library client. Open Library asks for a
// descriptive User-Agent and a low request rate.
func NewOpenLibrary(cfg ClientConfig, logger zerolog.Logger) *OpenLibrary {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openLibraryBaseURL
	}
	return &OpenLibrary{
		client:  newHTTPClient("openlibrary", cfg, classifyOpenLibrary, logger),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type olSearchResponse struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorNames      []string `json:"author_name"`
		ISBN             []string `json:"isbn"`
		FirstPublishYear int      `json:"first_publish_year"`
		CoverID          int      `json:"cover_i"`
	} `json:"docs"`
}

type olBookDetails struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	PublishDate string `json:"publish_date"`
	Notes       any    `json:"notes"`
	Cover       struct {
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

// Search implements Provider.
func (o *OpenLibrary) Search(ctx context.Context, query string, maxResults int) ([]types.BookRecord, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("fields", "key,title,author_name,isbn,first_publish_year,cover_i")
	q.Set("limit", strconv.Itoa(maxResults))

	var res olSearchResponse
	if err := o.client.getJSON(ctx, "search", o.baseURL+"/search.json?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	books := make([]types.BookRecord, 0, len(res.Docs))
	for _, d := range res.Docs {
		rec := types.BookRecord{
			ID:    "ol:" + strings.TrimPrefix(d.Key, "/works/"),
			Title: d.Title,
		}
		if len(d.AuthorNames) > 0 {
			rec.Author = strings.Join(d.AuthorNames, ", ")
		}
		if len(d.ISBN) > 0 {
			rec.ISBN = d.ISBN[0]
		}
		if d.FirstPublishYear > 0 {
			rec.PublicationYear = strconv.Itoa(d.FirstPublishYear)
		}
		if d.CoverID > 0 {
			rec.CoverImageURL = fmt.Sprintf("https://covers.openlibrary.org/b/id/%d-M.jpg", d.CoverID)
		}
		books = append(books, rec.WithDefaults())
	}
	return books, nil
}

// LookupByISBN implements Provider.
func (o *OpenLibrary) LookupByISBN(ctx context.Context, isbn string) (*types.BookRecord, error) {
	q := url.Values{}
	q.Set("bibkeys", "ISBN:"+isbn)
	q.Set("jscmd", "data")
	q.Set("format", "json")

	var res map[string]olBookDetails
	if err := o.client.getJSON(ctx, "lookup isbn", o.baseURL+"/api/books?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	details, ok := res["ISBN:"+isbn]
	if !ok {
		return nil, nil
	}

	rec := types.BookRecord{
		ID:              "ol:" + strings.TrimPrefix(details.Key, "/books/"),
		ISBN:            isbn,
		Title:           details.Title,
		PublicationYear: yearFrom(details.PublishDate),
		CoverImageURL:   firstNonEmpty(details.Cover.Large, details.Cover.Medium),
	}
	if details.Key == "" {
		rec.ID = "isbn:" + isbn
	}
	if details.Subtitle != "" {
		rec.Title = details.Title + ": " + details.Subtitle
	}
	if notes, ok := details.Notes.(string); ok {
		rec.Description = notes
	}
	names := make([]string, 0, len(details.Authors))
	for _, a := range details.Authors {
		names = append(names, a.Name)
	}
	rec.Author = strings.Join(names, ", ")
	rec = rec.WithDefaults()
	return &rec, nil
}

func classifyOpenLibrary(op string, status int, _ []byte) error {
	if status == http.StatusForbidden {
		return types.NewError(types.CodeRateLimited, op, "open library blocked the client", nil)
	}
	return classifyCommon(op, status)
}
