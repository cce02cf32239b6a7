package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenCache shares access tokens between processes. LoadToken returns nil,
// nil when nothing is cached.
type TokenCache interface {
	LoadToken(ctx context.Context, key string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, key string, tok *oauth2.Token) error
}

// cachedTokenSource consults the shared cache before running the client
// credentials exchange and writes fresh tokens back to it.
type cachedTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	cache  TokenCache
	key    string
	margin time.Duration
	now    func() time.Time
}

func (s *cachedTokenSource) Token() (*oauth2.Token, error) {
	if s.cache != nil {
		tok, err := s.cache.LoadToken(s.ctx, s.key)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read cached marketplace token")
		} else if tok != nil && tok.AccessToken != "" && tok.Expiry.After(s.now().Add(s.margin)) {
			return tok, nil
		}
	}

	tok, err := s.base.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	log.Debug().Time("expiry", tok.Expiry).Msg("obtained marketplace access token")

	if s.cache != nil {
		if err := s.cache.SaveToken(s.ctx, s.key, tok); err != nil {
			log.Warn().Err(err).Msg("failed to cache marketplace token")
		}
	}
	return tok, nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_client" {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
		}
	}
	return fmt.Errorf("failed to obtain marketplace token: %w", err)
}

// newTokenSource builds the client credentials token source, backed by cache
// when given, and reused until margin before expiry.
func newTokenSource(ctx context.Context, cfg Config, cache TokenCache) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	src := &cachedTokenSource{
		ctx:    ctx,
		base:   cc.TokenSource(ctx),
		cache:  cache,
		key:    tokenCacheKey(cfg),
		margin: cfg.TokenRefreshMargin,
		now:    time.Now,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, cfg.TokenRefreshMargin)
}

func tokenCacheKey(cfg Config) string {
	return "marketplace:" + cfg.TokenURL + ":" + cfg.ClientID
}
