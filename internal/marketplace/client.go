package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/raine/item-appraiser/internal/resilience"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const maxSearchLimit = 200

// Client searches marketplace listings. A Client owns its token source; no
// token state is shared through package variables.
type Client struct {
	cfg        Config
	httpClient *resty.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a marketplace client. ctx bounds token exchanges; cache
// may be nil.
func NewClient(ctx context.Context, cfg Config, cache TokenCache) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("marketplace client id and secret are required")
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaults.Scopes
	}
	if cfg.MarketplaceID == "" {
		cfg.MarketplaceID = defaults.MarketplaceID
	}
	if cfg.TokenRefreshMargin <= 0 {
		cfg.TokenRefreshMargin = defaults.TokenRefreshMargin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	retry.OnRetry = resilience.RetryLogger("marketplace", "search")

	return &Client{
		cfg: cfg,
		httpClient: resty.New().
			SetDebug(false).
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeaders(map[string]string{
				"Accept":          "application/json",
				marketplaceHeader: cfg.MarketplaceID,
			}),
		tokens:  newTokenSource(ctx, cfg, cache),
		limiter: limiter,
		retry:   retry,
	}, nil
}

// Search returns up to limit listings matching query. Transient failures are
// retried; credential failures are returned as ErrUnauthorized.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("marketplace search query is empty")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	items, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Item, error) {
		return c.searchOnce(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("query", query).Int("results", len(items)).Msg("marketplace search")
	return items, nil
}

func (c *Client) searchOnce(ctx context.Context, query string, limit int) ([]Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	result := &searchResponse{}
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(result).
		SetError(&errorResponse{}).
		Get(searchPath)
	if err != nil {
		return nil, fmt.Errorf("marketplace search request failed: %w", err)
	}

	if err := handleError(res); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(result.ItemSummaries))
	for _, s := range result.ItemSummaries {
		items = append(items, s.toItem())
	}
	return items, nil
}

// handleError maps failing responses to errors. Without this, failing
// responses would have nil error.
func handleError(res *resty.Response) error {
	if !res.IsError() {
		return nil
	}

	status := res.StatusCode()
	msg := fmt.Sprintf("marketplace search failed (status: %d)", status)
	if e, ok := res.Error().(*errorResponse); ok && len(e.Errors) > 0 {
		msg += ": " + e.Errors[0].Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(errors.New(msg), status)
	default:
		return errors.New(msg)
	}
}
