package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
)

// CachedResponse is a stored backend response.
type CachedResponse struct {
	Text  string
	Model string
}

// ResponseCache persists backend responses keyed by request hash.
// Get returns nil, nil on a miss.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, key string) (*CachedResponse, error)
	SetCachedResponse(ctx context.Context, key string, resp *CachedResponse) error
}

// CachedBackend wraps a Backend with a response cache. Requests with web
// search enabled bypass the cache since their answers depend on live data.
type CachedBackend struct {
	inner Backend
	store ResponseCache
}

// NewCachedBackend creates a cached backend.
func NewCachedBackend(inner Backend, store ResponseCache) *CachedBackend {
	return &CachedBackend{inner: inner, store: store}
}

func (c *CachedBackend) Name() string {
	return c.inner.Name()
}

// Generate implements Backend with caching.
func (c *CachedBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	if c.store == nil || req.Options.WebSearch {
		return c.inner.Generate(ctx, req)
	}

	key := requestHash(c.inner.Name(), req)

	cached, err := c.store.GetCachedResponse(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("failed to check inference cache")
	} else if cached != nil {
		log.Debug().Str("hash", key[:16]).Str("stage", req.Options.Stage).Msg("inference cache hit")
		return &Response{Text: cached.Text, Model: cached.Model, Cached: true}, nil
	}

	resp, err := c.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp != nil && resp.Text != "" {
		if err := c.store.SetCachedResponse(ctx, key, &CachedResponse{Text: resp.Text, Model: resp.Model}); err != nil {
			log.Warn().Err(err).Msg("failed to cache inference response")
		} else {
			log.Debug().Str("hash", key[:16]).Msg("cached inference response")
		}
	}

	return resp, nil
}

// requestHash creates a SHA256 hash over everything that influences the
// response. Each image is length-prefixed to prevent boundary collisions.
func requestHash(backend string, req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", backend, req.Prompt)
	o := req.Options
	fmt.Fprintf(h, "%s|%s|%d|%t|", o.ReasoningEffort, o.Verbosity, o.MaxOutputTokens, req.JSON)
	if o.Temperature != nil {
		fmt.Fprintf(h, "%g", *o.Temperature)
	}
	for _, img := range req.Images {
		data := img.Data
		if len(data) == 0 {
			data = []byte(img.URL)
		}
		binary.Write(h, binary.LittleEndian, int64(len(data)))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
