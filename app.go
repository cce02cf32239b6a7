package main

import (
	"context"
	"fmt"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/images"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/marketplace"
	"github.com/raine/item-appraiser/internal/metadata"
	"github.com/raine/item-appraiser/internal/pipeline"
	"github.com/raine/item-appraiser/internal/pricing"
	"github.com/raine/item-appraiser/internal/storage"
	"github.com/raine/item-appraiser/internal/validation"
	"github.com/rs/zerolog/log"
)

// store is what both storage backends provide.
type store interface {
	detection.Repository
	metadata.Repository
	llm.ResponseCache
	ListDetections(ctx context.Context, f storage.DetectionFilter) ([]*detection.Record, error)
	Close() error
}

// app holds the wired components for one command invocation.
type app struct {
	store      store
	orch       *pipeline.Orchestrator
	downloader *images.Downloader
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
}

// newApp builds the orchestrator and its collaborators from cfg.
func newApp(ctx context.Context) (*app, error) {
	st, tokens, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	inference, err := newInference(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	var searcher pricing.Searcher
	if cfg.Marketplace.Enabled() {
		client, err := marketplace.NewClient(ctx, cfg.MarketplaceClient(), tokens)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to initialize marketplace client: %w", err)
		}
		searcher = client
	} else {
		log.Warn().Msg("marketplace credentials are not set, pricing uses model estimates only")
	}

	downloader := images.NewDownloader().
		WithTimeout(cfg.Images.DownloadTimeout).
		WithMaxSize(cfg.Images.MaxSizeMB << 20)

	var imageStore images.Store
	if cfg.Images.UploadURL != "" {
		imageStore = images.NewHTTPStore(cfg.Images.UploadURL, cfg.Images.UploadToken, downloader)
	} else {
		local, err := images.NewLocalStore(cfg.Images.Dir)
		if err != nil {
			st.Close()
			return nil, err
		}
		imageStore = local
	}

	orch := pipeline.New(
		cfg.Pipeline(),
		st,
		metadata.NewStore(st, st),
		imageStore,
		inference,
		validation.NewEngine(cfg.ValidationEngine()),
		pricing.NewAggregator(cfg.PricingAggregator(), searcher, inference),
	)
	return &app{store: st, orch: orch, downloader: downloader}, nil
}

// openStore opens the configured database. The returned token cache is nil
// unless the SQLite store has an encryption key.
func openStore(ctx context.Context) (store, marketplace.TokenCache, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, cfg.Store.DatabaseURL, &storage.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, nil, nil
	default:
		var key []byte
		if cfg.Security.TokenKey != "" {
			k, err := storage.DeriveKey(cfg.Security.TokenKey, []byte(cfg.Security.TokenSalt))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to derive encryption key: %w", err)
			}
			key = k
		}

		sqlite, err := storage.NewSQLiteStore(cfg.Store.Path, key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		log.Debug().Str("dbPath", cfg.Store.Path).Msg("store initialized")

		if key == nil {
			return sqlite, nil, nil
		}
		return sqlite, sqlite, nil
	}
}

func newInference(ctx context.Context, cache llm.ResponseCache) (*llm.Client, error) {
	var backend llm.Backend
	switch cfg.Inference.Backend {
	case "anthropic":
		b, err := llm.NewAnthropicBackend(llm.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize anthropic backend: %w", err)
		}
		backend = b
	default:
		b, err := llm.NewGeminiBackend(ctx, llm.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini backend: %w", err)
		}
		backend = b
	}

	if cfg.Inference.Cache {
		backend = llm.NewCachedBackend(backend, cache)
		log.Debug().Msg("inference response caching enabled")
	}
	return llm.NewClient(backend, cfg.ClientConfig()), nil
}
