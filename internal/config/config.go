package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DATABASE_"`
	Pricing   Pricing   `envPrefix:"PRICING_"`
	Checkout  Checkout  `envPrefix:"CHECKOUT_"`
	Wallet    Wallet    `envPrefix:"WALLET_"`
	Payment   Payment   `envPrefix:"PAYMENT_"`
	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	Webhook   Webhook   `envPrefix:"WEBHOOK_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver       string        `env:"DRIVER" envDefault:"sqlite"` // sqlite, mysql, postgres
	URL          string        `env:"URL" envDefault:"marketplace.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLife  time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	Seed         bool          `env:"SEED" envDefault:"false"`
}

type Pricing struct {
	// used when a product carries no fee percent of its own
	DefaultFeePercent string `env:"DEFAULT_FEE_PERCENT" envDefault:"10"`
}

type Checkout struct {
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"30s"`
	ExpireAfter    time.Duration `env:"EXPIRE_AFTER" envDefault:"30m"`
	SettleWithin   time.Duration `env:"SETTLE_WITHIN" envDefault:"72h"`
}

type Wallet struct {
	ClearingPeriod time.Duration `env:"CLEARING_PERIOD" envDefault:"0s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

type Payment struct {
	Provider         string        `env:"PROVIDER" envDefault:"simulated"` // simulated, braintree
	SimulatedLatency time.Duration `env:"SIMULATED_LATENCY" envDefault:"1500ms"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

func (p Paypal) Enabled() bool {
	return p.BaseApiURL != "" && p.ClientID != ""
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type Redis struct {
	Addr    string `env:"ADDR"`
	Channel string `env:"CHANNEL" envDefault:"marketplace:orders"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-me"`
}

type Webhook struct {
	Secret string `env:"SECRET" envDefault:"change-me"`
}

// Load reads an optional .env file into the environment and parses Config from it.
func Load() (*Config, error) {
	// load .env into os.Environ
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	durations := []struct {
		name      string
		d         time.Duration
		allowZero bool
	}{
		{"WALLET_SWEEP_INTERVAL", c.Wallet.SweepInterval, false},
		{"CHECKOUT_PAYMENT_TIMEOUT", c.Checkout.PaymentTimeout, false},
		{"CHECKOUT_EXPIRE_AFTER", c.Checkout.ExpireAfter, false},
		{"WALLET_CLEARING_PERIOD", c.Wallet.ClearingPeriod, true},
		{"CHECKOUT_SETTLE_WITHIN", c.Checkout.SettleWithin, true},
	}
	for _, d := range durations {
		if d.d < 0 || (d.d == 0 && !d.allowZero) {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}
	return nil
}
