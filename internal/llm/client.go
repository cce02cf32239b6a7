package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raine/item-appraiser/internal/resilience"
	"github.com/rs/zerolog/log"
)

// ClientConfig controls retries and per-attempt timeouts.
type ClientConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns 2 retries, 1s initial backoff and a 90s
// per-attempt timeout.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:     2,
		InitialBackoff: time.Second,
		RequestTimeout: 90 * time.Second,
	}
}

// Client is the retrying entry point for all inference calls.
type Client struct {
	backend Backend
	cfg     ClientConfig
}

// NewClient wraps backend with retry handling.
func NewClient(backend Backend, cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{backend: backend, cfg: cfg}
}

// Call sends prompt and images and returns the raw response text. Transport
// failures and empty responses are retried with exponential backoff
// (InitialBackoff, 2x, 4x, ...) for up to MaxRetries+1 attempts.
func (c *Client) Call(ctx context.Context, prompt string, images []Image, opts Options) (string, error) {
	resp, err := c.call(ctx, Request{Prompt: prompt, Images: images, Options: opts})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CallAndParse is Call followed by JSON extraction. A response that contains
// no parseable JSON object yields a *JSONParseError without a retry.
func (c *Client) CallAndParse(ctx context.Context, prompt string, images []Image, opts Options) (Fields, error) {
	resp, err := c.call(ctx, Request{Prompt: prompt, Images: images, Options: opts, JSON: true})
	if err != nil {
		return nil, err
	}

	fields, err := ParseFields(resp.Text)
	if err != nil {
		log.Warn().
			Str("stage", opts.Stage).
			Str("model", resp.Model).
			Err(err).
			Msg("inference response had no usable JSON")
		return nil, &JSONParseError{Raw: resp.Text, Err: err}
	}
	return fields, nil
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	retries := c.cfg.MaxRetries
	if req.Options.MaxRetries != nil {
		retries = max(*req.Options.MaxRetries, 0)
	}
	attempts := retries + 1

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: c.cfg.InitialBackoff,
		MaxBackoff:     time.Hour,
		Multiplier:     2.0,
		ShouldRetry:    IsRetryable,
		OnRetry:        resilience.RetryLogger(c.backend.Name(), req.Options.Stage),
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, req)
	})
	if err != nil {
		if IsRetryable(err) {
			return nil, fmt.Errorf("inference call failed after %d attempts: %w", attempts, err)
		}
		return nil, err
	}

	log.Info().
		Str("backend", c.backend.Name()).
		Str("model", resp.Model).
		Str("stage", req.Options.Stage).
		Int("imageCount", len(req.Images)).
		Int64("inputTokens", resp.Usage.InputTokens).
		Int64("outputTokens", resp.Usage.OutputTokens).
		Float64("costUSD", resp.Usage.CostUSD).
		Bool("cached", resp.Cached).
		Msg("inference call")

	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.backend.Generate(attemptCtx, req)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{Backend: c.backend.Name(), Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}
