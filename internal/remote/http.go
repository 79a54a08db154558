package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/types"
)

const (
	defaultGistAPI      = "https://api.github.com"
	defaultDocumentFile = "books.tsv"
	defaultDescription  = "shelf-sync reading list"
	maxDocumentBody     = 8 << 20
)

// HTTPStore keeps the document as a single file of a gist-style JSON API
// (GET/PATCH /gists/{id}, POST /gists). The credential is a bearer token.
type HTTPStore struct {
	http        *http.Client
	baseURL     string
	fileName    string
	description string
	logger      zerolog.Logger
}

// HTTPOption configures the HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.http = c
	}
}

// WithFileName sets the name of the file holding the document.
func WithFileName(name string) HTTPOption {
	return func(s *HTTPStore) {
		s.fileName = name
	}
}

// NewHTTPStore constructs an HTTPStore. An empty baseURL selects the GitHub API.
func NewHTTPStore(baseURL string, logger zerolog.Logger, opts ...HTTPOption) *HTTPStore {
	if baseURL == "" {
		baseURL = defaultGistAPI
	}
	s := &HTTPStore{
		http:        &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		fileName:    defaultDocumentFile,
		description: defaultDescription,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gist struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      *bool               `json:"public,omitempty"`
	Files       map[string]gistFile `json:"files"`
}

// Fetch implements Store.
func (s *HTTPStore) Fetch(ctx context.Context, id, credential string) (string, error) {
	const op = "remote fetch"

	var doc gist
	if err := s.do(ctx, op, http.MethodGet, "/gists/"+id, credential, nil, http.StatusOK, &doc); err != nil {
		return "", err
	}
	file, ok := doc.Files[s.fileName]
	if !ok {
		return "", types.NewError(types.CodeMalformed, op, fmt.Sprintf("document has no %s file", s.fileName), nil)
	}
	if !file.Truncated {
		return file.Content, nil
	}

	s.logger.Debug().Str("document", id).Msg("document truncated; fetching raw content")
	return s.fetchRaw(ctx, op, file.RawURL, credential)
}

// Create implements Store.
func (s *HTTPStore) Create(ctx context.Context, credential, text string) (string, error) {
	const op = "remote create"

	public := false
	body := gist{
		Description: s.description,
		Public:      &public,
		Files:       map[string]gistFile{s.fileName: {Content: text}},
	}
	var created gist
	if err := s.do(ctx, op, http.MethodPost, "/gists", credential, body, http.StatusCreated, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", types.NewError(types.CodeMalformed, op, "response carried no document id", nil)
	}
	return created.ID, nil
}

// Update implements Store.
func (s *HTTPStore) Update(ctx context.Context, id, credential, text string) error {
	body := gist{Files: map[string]gistFile{s.fileName: {Content: text}}}
	return s.do(ctx, "remote update", http.MethodPatch, "/gists/"+id, credential, body, http.StatusOK, nil)
}

func (s *HTTPStore) do(ctx context.Context, op, method, path, credential string, body any, want int, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	authorize(req, credential)

	resp, err := s.http.Do(req)
	if err != nil {
		if isCanceled(err) {
			return err
		}
		return types.NewError(types.CodeNetwork, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return classifyResponse(op, resp)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBody)).Decode(target); err != nil {
		return types.NewError(types.CodeMalformed, op, "decode response", err)
	}
	return nil
}

func (s *HTTPStore) fetchRaw(ctx context.Context, op, rawURL, credential string) (string, error) {
	if rawURL == "" {
		return "", types.NewError(types.CodeMalformed, op, "truncated document without raw url", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", op, err)
	}
	authorize(req, credential)

	resp, err := s.http.Do(req)
	if err != nil {
		if isCanceled(err) {
			return "", err
		}
		return "", types.NewError(types.CodeNetwork, op, "raw request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(op, resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBody))
	if err != nil {
		return "", types.NewError(types.CodeNetwork, op, "read raw body", err)
	}
	return string(data), nil
}

func authorize(req *http.Request, credential string) {
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
}

// classifyResponse maps a failed response to the error taxonomy. A 403 is a
// rate limit only when the API says the budget is spent. Any other 4xx means
// the service refused the request body itself, so it is reported as malformed.
func classifyResponse(op string, resp *http.Response) error {
	status := resp.StatusCode
	switch {
	case status == http.StatusNotFound:
		return types.NewError(types.CodeNotFound, op, "document not found", nil)
	case status == http.StatusUnauthorized:
		return types.NewError(types.CodeUnauthorized, op, "credential rejected", nil)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.CodeRateLimited, op, "too many requests", nil)
	case status == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return types.NewError(types.CodeRateLimited, op, "rate limit exhausted", nil)
		}
		return types.NewError(types.CodeUnauthorized, op, "credential lacks access", nil)
	case status >= 500:
		return types.NewError(types.CodeNetwork, op, fmt.Sprintf("server error %d", status), nil)
	case status >= 400:
		return types.NewError(types.CodeMalformed, op, fmt.Sprintf("request rejected with status %d", status), nil)
	default:
		return types.NewError(types.CodeNetwork, op, fmt.Sprintf("unexpected status %d", status), nil)
	}
}
