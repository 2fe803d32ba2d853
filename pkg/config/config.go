package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "MERCHANTSIM"

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App      AppConfig
	Checkout CheckoutConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := cfg.Checkout.TaxRateDecimal(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MERCHANTSIM_APP_ENV" default:"development"`
	Port         string `envconfig:"MERCHANTSIM_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MERCHANTSIM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MERCHANTSIM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// CheckoutConfig carries the protocol expectations every request is checked
// against plus the knobs of the totals calculator.
type CheckoutConfig struct {
	// APIVersion is the single supported value of the API-Version header,
	// compared exactly.
	APIVersion string `envconfig:"MERCHANTSIM_API_VERSION" default:"2025-09-29"`
	// BearerSecret, when set, must match the Authorization bearer token on
	// every request. Empty disables the check.
	BearerSecret string `envconfig:"MERCHANTSIM_BEARER_SECRET"`
	// TaxRate applied to each line item's base amount.
	TaxRate string `envconfig:"MERCHANTSIM_TAX_RATE" default:"0.085"`
	// BaseURL backs session links and the order permalink when the request
	// carries no Origin header.
	BaseURL string `envconfig:"MERCHANTSIM_BASE_URL" default:"https://merchant.example.com"`
}

// TaxRateDecimal parses the configured tax rate.
func (c CheckoutConfig) TaxRateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing tax rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("tax rate must be non-negative, got %s", rate)
	}
	return rate, nil
}
