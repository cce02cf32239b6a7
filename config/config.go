package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/raine/item-appraiser/internal/detection"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/marketplace"
	"github.com/raine/item-appraiser/internal/pipeline"
	"github.com/raine/item-appraiser/internal/pricing"
	"github.com/raine/item-appraiser/internal/validation"
	"github.com/spf13/viper"
)

const (
	AppName     = "item-appraiser"
	EnvFileName = "config.env"
	EnvPrefix   = "APPRAISER"
)

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Config holds the full application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Inference   InferenceConfig   `mapstructure:"inference"`
	Gemini      BackendConfig     `mapstructure:"gemini"`
	Anthropic   BackendConfig     `mapstructure:"anthropic"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Images      ImagesConfig      `mapstructure:"images"`
	Security    SecurityConfig    `mapstructure:"security"`
}

// LogConfig configures logging. Format is "console" or "json".
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StoreConfig selects the database. Driver is "sqlite" or "postgres".
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// InferenceConfig selects the model backend and its retry policy.
type InferenceConfig struct {
	Backend        string        `mapstructure:"backend"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Cache          bool          `mapstructure:"cache"`
}

type BackendConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ValidationConfig struct {
	MinConfidenceElectronics int  `mapstructure:"min_confidence_electronics"`
	MinConfidenceFashion     int  `mapstructure:"min_confidence_fashion"`
	MinConfidenceOther       int  `mapstructure:"min_confidence_other"`
	ClarityMinConfidence     int  `mapstructure:"clarity_min_confidence"`
	CategoryWarnConfidence   int  `mapstructure:"category_warn_confidence"`
	FashionRequireBrand      bool `mapstructure:"fashion_require_brand"`
	FashionMaxMissingDetails int  `mapstructure:"fashion_max_missing_details"`
}

type MarketplaceConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	TokenURL           string        `mapstructure:"token_url"`
	ClientID           string        `mapstructure:"client_id"`
	ClientSecret       string        `mapstructure:"client_secret"`
	Scopes             []string      `mapstructure:"scopes"`
	MarketplaceID      string        `mapstructure:"marketplace_id"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Enabled reports whether marketplace credentials are configured.
func (m MarketplaceConfig) Enabled() bool {
	return m.ClientID != "" && m.ClientSecret != ""
}

type PricingConfig struct {
	AllowedCategoryIDs []string `mapstructure:"allowed_category_ids"`
	SearchLimit        int      `mapstructure:"search_limit"`
	Currency           string   `mapstructure:"currency"`
	FallbackToModel    bool     `mapstructure:"fallback_to_model"`
	ListingSample      int      `mapstructure:"listing_sample"`
}

// ImagesConfig selects where uploaded photos are kept. When UploadURL is
// set images are PUT there, otherwise they are written under Dir.
type ImagesConfig struct {
	Dir             string        `mapstructure:"dir"`
	UploadURL       string        `mapstructure:"upload_url"`
	UploadToken     string        `mapstructure:"upload_token"`
	MaxImages       int           `mapstructure:"max_images"`
	MaxSizeMB       int64         `mapstructure:"max_size_mb"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// SecurityConfig holds the passphrase used to encrypt cached marketplace
// tokens at rest.
type SecurityConfig struct {
	TokenKey  string `mapstructure:"token_key"`
	TokenSalt string `mapstructure:"token_salt"`
}

// Load reads configuration from an optional config file and the environment.
// configFile overrides the search for config.yaml in the working directory
// and the user config directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if base, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(base, AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also read from their conventional names.
	_ = v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "appraiser.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)

	llmDefaults := llm.DefaultClientConfig()
	v.SetDefault("inference.backend", "gemini")
	v.SetDefault("inference.max_retries", llmDefaults.MaxRetries)
	v.SetDefault("inference.initial_backoff", llmDefaults.InitialBackoff)
	v.SetDefault("inference.request_timeout", llmDefaults.RequestTimeout)
	v.SetDefault("inference.cache", true)
	v.SetDefault("gemini.model", "")
	v.SetDefault("anthropic.model", "")

	vd := validation.DefaultConfig()
	v.SetDefault("validation.min_confidence_electronics", vd.MinConfidence[detection.CategoryElectronics])
	v.SetDefault("validation.min_confidence_fashion", vd.MinConfidence[detection.CategoryFashion])
	v.SetDefault("validation.min_confidence_other", vd.MinConfidence[detection.CategoryOther])
	v.SetDefault("validation.clarity_min_confidence", vd.ClarityMinConfidence)
	v.SetDefault("validation.category_warn_confidence", vd.CategoryWarnConfidence)
	v.SetDefault("validation.fashion_require_brand", vd.FashionRequireBrand)
	v.SetDefault("validation.fashion_max_missing_details", vd.FashionMaxMissingDetails)

	md := marketplace.DefaultConfig()
	v.SetDefault("marketplace.base_url", md.BaseURL)
	v.SetDefault("marketplace.token_url", md.TokenURL)
	v.SetDefault("marketplace.client_id", "")
	v.SetDefault("marketplace.client_secret", "")
	v.SetDefault("marketplace.scopes", md.Scopes)
	v.SetDefault("marketplace.marketplace_id", md.MarketplaceID)
	v.SetDefault("marketplace.requests_per_second", md.RequestsPerSecond)
	v.SetDefault("marketplace.token_refresh_margin", md.TokenRefreshMargin)
	v.SetDefault("marketplace.timeout", md.Timeout)
	v.SetDefault("marketplace.max_retries", md.MaxRetries)

	pd := pricing.DefaultConfig()
	od := pipeline.DefaultConfig()
	v.SetDefault("pricing.allowed_category_ids", pd.AllowedCategoryIDs)
	v.SetDefault("pricing.search_limit", pd.SearchLimit)
	v.SetDefault("pricing.currency", pd.DefaultCurrency)
	v.SetDefault("pricing.fallback_to_model", od.FallbackToModel)
	v.SetDefault("pricing.listing_sample", od.ListingSample)

	v.SetDefault("images.dir", "images")
	v.SetDefault("images.upload_url", "")
	v.SetDefault("images.upload_token", "")
	v.SetDefault("images.max_images", od.MaxImages)
	v.SetDefault("images.max_size_mb", 10)
	v.SetDefault("images.download_timeout", 30*time.Second)

	v.SetDefault("security.token_key", "")
	v.SetDefault("security.token_salt", AppName)
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return errors.New("config: store.database_url is required for postgres")
	}
	switch c.Inference.Backend {
	case "gemini", "anthropic":
	default:
		return fmt.Errorf("config: unsupported inference backend %q", c.Inference.Backend)
	}
	if c.Images.MaxImages < 1 || c.Images.MaxImages > pipeline.MaxImagesLimit {
		return fmt.Errorf("config: images.max_images must be between 1 and %d", pipeline.MaxImagesLimit)
	}
	return nil
}

// ClientConfig converts the inference section for llm.NewClient.
func (c *Config) ClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		MaxRetries:     c.Inference.MaxRetries,
		InitialBackoff: c.Inference.InitialBackoff,
		RequestTimeout: c.Inference.RequestTimeout,
	}
}

// ValidationEngine converts the validation section for validation.NewEngine.
func (c *Config) ValidationEngine() validation.Config {
	return validation.Config{
		MinConfidence: map[detection.Category]int{
			detection.CategoryElectronics: c.Validation.MinConfidenceElectronics,
			detection.CategoryFashion:     c.Validation.MinConfidenceFashion,
			detection.CategoryOther:       c.Validation.MinConfidenceOther,
		},
		ClarityMinConfidence:     c.Validation.ClarityMinConfidence,
		CategoryWarnConfidence:   c.Validation.CategoryWarnConfidence,
		FashionRequireBrand:      c.Validation.FashionRequireBrand,
		FashionMaxMissingDetails: c.Validation.FashionMaxMissingDetails,
	}
}

// MarketplaceClient converts the marketplace section for marketplace.NewClient.
func (c *Config) MarketplaceClient() marketplace.Config {
	m := c.Marketplace
	return marketplace.Config{
		BaseURL:            m.BaseURL,
		TokenURL:           m.TokenURL,
		ClientID:           m.ClientID,
		ClientSecret:       m.ClientSecret,
		Scopes:             m.Scopes,
		MarketplaceID:      m.MarketplaceID,
		RequestsPerSecond:  m.RequestsPerSecond,
		TokenRefreshMargin: m.TokenRefreshMargin,
		Timeout:            m.Timeout,
		MaxRetries:         m.MaxRetries,
	}
}

// PricingAggregator converts the pricing section for pricing.NewAggregator.
func (c *Config) PricingAggregator() pricing.Config {
	return pricing.Config{
		AllowedCategoryIDs: c.Pricing.AllowedCategoryIDs,
		SearchLimit:        c.Pricing.SearchLimit,
		DefaultCurrency:    c.Pricing.Currency,
	}
}

// Pipeline converts the orchestrator settings spread over the pricing and
// images sections.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		MaxImages:       c.Images.MaxImages,
		Currency:        c.Pricing.Currency,
		FallbackToModel: c.Pricing.FallbackToModel,
		ListingSample:   c.Pricing.ListingSample,
	}
}
