package insightsapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for the insights API client.
type Config struct {
	BaseURL     string `env:"INSIGHTS_BASE_URL" envDefault:"https://graph.facebook.com"`
	APIVersion  string `env:"INSIGHTS_API_VERSION" envDefault:"v19.0"`
	AccountID   string `env:"INSIGHTS_ACCOUNT_ID"`
	AccessToken string `env:"INSIGHTS_ACCESS_TOKEN"`
	// Client side limit; the API applies its own per-account quota on top.
	RequestsPerSecond float64       `env:"INSIGHTS_REQUESTS_PER_SECOND" envDefault:"5"`
	Burst             int           `env:"INSIGHTS_BURST" envDefault:"5"`
	Timeout           time.Duration `env:"INSIGHTS_TIMEOUT" envDefault:"30s"`
	PageSize          int           `env:"INSIGHTS_PAGE_SIZE" envDefault:"500"`
}

// Load loads the insights API configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse insights api config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be used to build a client.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("invalid base url: must not be empty")
	case c.AccountID == "":
		return errors.New("invalid account id: must not be empty")
	case c.AccessToken == "":
		return errors.New("invalid access token: must not be empty")
	case c.RequestsPerSecond <= 0:
		return errors.New("invalid requests per second: must be greater than 0")
	case c.Burst <= 0:
		return errors.New("invalid burst: must be greater than 0")
	case c.PageSize <= 0:
		return errors.New("invalid page size: must be greater than 0")
	}
	return nil
}
