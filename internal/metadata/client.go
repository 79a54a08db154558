package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/example/shelf-sync/internal/types"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "shelf-sync/1.0"
	maxErrorBody     = 4 << 10
)

// ClientConfig configures an HTTP metadata client.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	// RPS caps outbound requests per second; zero disables client-side limiting.
	RPS   float64
	Burst int
}

// statusClassifier maps a non-200 response to a typed error.
type statusClassifier func(op string, status int, body []byte) error

// httpClient is the shared transport for the provider clients: a token bucket
// in front of a plain http.Client, no retries.
type httpClient struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	name      string
	logger    zerolog.Logger
	classify  statusClassifier
}

func newHTTPClient(name string, cfg ClientConfig, classify statusClassifier, logger zerolog.Logger) httpClient {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return httpClient{
		http:      &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: userAgent,
		name:      name,
		logger:    logger,
		classify:  classify,
	}
}

func (c *httpClient) getJSON(ctx context.Context, op, url string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewError(types.CodeRateLimited, op, "client rate limit wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug().Str("provider", c.name).Str("op", op).Msg("metadata request")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observeLookup(c.name, op, types.CodeNetwork, start)
		if errors.Is(err, context.Canceled) {
			return err
		}
		return types.NewError(types.CodeNetwork, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := c.classify(op, resp.StatusCode, body)
		observeLookup(c.name, op, types.CodeOf(err), start)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		observeLookup(c.name, op, types.CodeMalformed, start)
		return types.NewError(types.CodeMalformed, op, "decode response", err)
	}
	observeLookup(c.name, op, "", start)
	return nil
}

// classifyCommon covers the statuses both providers share.
func classifyCommon(op string, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.CodeRateLimited, op, "provider throttled the request", nil)
	case status == http.StatusNotFound:
		return types.NewError(types.CodeNotFound, op, "not found", nil)
	case status == http.StatusUnauthorized:
		return types.NewError(types.CodeUnauthorized, op, "api key rejected", nil)
	case status >= 500:
		return types.NewError(types.CodeNetwork, op, fmt.Sprintf("provider error %d", status), nil)
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}
