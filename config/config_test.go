package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/item-appraiser/internal/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(emptyConfigFile(t))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gemini", cfg.Inference.Backend)
	assert.Equal(t, 2, cfg.Inference.MaxRetries)
	assert.Equal(t, time.Second, cfg.Inference.InitialBackoff)
	assert.True(t, cfg.Inference.Cache)
	assert.Equal(t, 5, cfg.Images.MaxImages)
	assert.Equal(t, "USD", cfg.Pricing.Currency)
	assert.True(t, cfg.Pricing.FallbackToModel)
	assert.Equal(t, 60*time.Second, cfg.Marketplace.TokenRefreshMargin)
	assert.False(t, cfg.Marketplace.Enabled())

	vc := cfg.ValidationEngine()
	assert.Equal(t, 50, vc.MinConfidence[detection.CategoryElectronics])
	assert.Equal(t, 40, vc.MinConfidence[detection.CategoryFashion])
	assert.Equal(t, 40, vc.MinConfidence[detection.CategoryOther])
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appraiser.yaml")
	data := []byte(`
store:
  driver: postgres
  database_url: postgres://localhost/appraiser
validation:
  min_confidence_electronics: 70
marketplace:
  client_id: abc
  client_secret: def
  timeout: 5s
pricing:
  allowed_category_ids: ["9355"]
  fallback_to_model: false
images:
  max_images: 3
`)
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 70, cfg.ValidationEngine().MinConfidence[detection.CategoryElectronics])
	assert.True(t, cfg.Marketplace.Enabled())
	assert.Equal(t, 5*time.Second, cfg.MarketplaceClient().Timeout)
	assert.Equal(t, []string{"9355"}, cfg.PricingAggregator().AllowedCategoryIDs)

	pc := cfg.Pipeline()
	assert.Equal(t, 3, pc.MaxImages)
	assert.False(t, pc.FallbackToModel)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("APPRAISER_INFERENCE_BACKEND", "anthropic")
	t.Setenv("APPRAISER_INFERENCE_MAX_RETRIES", "4")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("APPRAISER_MARKETPLACE_REQUESTS_PER_SECOND", "2.5")

	cfg, err := Load(emptyConfigFile(t))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Inference.Backend)
	assert.Equal(t, 4, cfg.ClientConfig().MaxRetries)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.Equal(t, 2.5, cfg.MarketplaceClient().RequestsPerSecond)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"APPRAISER_STORE_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"APPRAISER_STORE_DRIVER": "postgres"}},
		{"unknown backend", map[string]string{"APPRAISER_INFERENCE_BACKEND": "local"}},
		{"no images allowed", map[string]string{"APPRAISER_IMAGES_MAX_IMAGES": "0"}},
		{"too many images", map[string]string{"APPRAISER_IMAGES_MAX_IMAGES": "6"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(emptyConfigFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appraiser.log")
	closeLog, err := InitLogger(LogConfig{Level: "debug", Format: "console", File: path})
	require.NoError(t, err)
	closeLog()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = InitLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
