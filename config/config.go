// Package config collects every deployment-time tunable into one structure
// built once at startup and passed into the components that need it. Nothing
// reads the environment during request handling.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/glazyr/paygate/types"
)

// Ledger backend selectors.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the process-wide payment and server configuration.
type Config struct {
	// Payment policy.
	Network         string `yaml:"network" validate:"required"`
	AssetAddress    string `yaml:"asset_address" validate:"required,eth_addr"`
	TreasuryAddress string `yaml:"treasury_address" validate:"required,eth_addr"`
	AssetDecimals   int32  `yaml:"asset_decimals" validate:"gte=0,lte=18"`

	// MinPayment is the smallest accepted payment, in whole units of the
	// asset (e.g. "1.00" USDC). Payments exactly at the minimum qualify.
	MinPayment decimal.Decimal `yaml:"-"`

	// FramesPerUnit is the number of frames granted per whole unit of the
	// asset.
	FramesPerUnit int64 `yaml:"frames_per_unit" validate:"gt=0"`

	// FreeFrameLimit is the introductory quota per session, enforced in
	// memory only (reset on restart).
	FreeFrameLimit int64 `yaml:"free_frame_limit" validate:"gte=0"`

	// OperatorSecret enables the operator bypass header when non-empty.
	// Intended for automated smoke tests, not end users.
	OperatorSecret string `yaml:"operator_secret"`

	// Chain data provider.
	RPCURL        string        `yaml:"rpc_url" validate:"required,url"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`

	// Ledger persistence.
	LedgerBackend string `yaml:"ledger_backend" validate:"oneof=file redis postgres"`
	LedgerPath    string `yaml:"ledger_path"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`

	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`

	// MinPaymentRaw carries the YAML/env form of MinPayment; Load parses it.
	MinPaymentRaw string `yaml:"min_payment"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Upstream is the tool-dispatch server gated requests are proxied to.
	// Optional; without it the gated mount answers 502.
	Upstream string `yaml:"upstream"`
}

// Default constants: USDC on Base mainnet, $1.00 minimum, 1000 frames per
// dollar. These match the treasury the server has collected to since launch.
const (
	DefaultAssetAddress    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultTreasuryAddress = "0x104A40D202d40458d8c67758ac54E93024A41B01"
	DefaultFreeFrameLimit  = 10000
	DefaultFramesPerUnit   = 1000
)

func defaults() *Config {
	return &Config{
		Network:         types.NetworkBase.String(),
		AssetAddress:    DefaultAssetAddress,
		TreasuryAddress: DefaultTreasuryAddress,
		AssetDecimals:   6,
		MinPaymentRaw:   "1.00",
		FramesPerUnit:   DefaultFramesPerUnit,
		FreeFrameLimit:  DefaultFreeFrameLimit,
		RPCURL:          "https://mainnet.base.org",
		VerifyTimeout:   30 * time.Second,
		LedgerBackend:   BackendFile,
		LedgerPath:      "data/x402-ledger.json",
		LogLevel:        "info",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         4545,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, then validates it. path may be empty.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	min, err := decimal.NewFromString(cfg.MinPaymentRaw)
	if err != nil || min.IsNegative() {
		return nil, fmt.Errorf("invalid min_payment %q", cfg.MinPaymentRaw)
	}
	cfg.MinPayment = min

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	switch cfg.LedgerBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("ledger_backend redis requires redis_url")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("ledger_backend postgres requires database_url")
		}
	}

	return cfg, nil
}

// applyEnvOverrides keeps the environment surface the deployment has always
// used (SMOKE_TEST_SECRET, SPONSORED_FRAME_LIMIT) plus PAYGATE_* names for
// everything else.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMOKE_TEST_SECRET"); v != "" {
		cfg.OperatorSecret = v
	}
	if v := os.Getenv("SPONSORED_FRAME_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FreeFrameLimit = n
		}
	}
	if v := os.Getenv("PAYGATE_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("PAYGATE_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("PAYGATE_ASSET_ADDRESS"); v != "" {
		cfg.AssetAddress = v
	}
	if v := os.Getenv("PAYGATE_TREASURY_ADDRESS"); v != "" {
		cfg.TreasuryAddress = v
	}
	if v := os.Getenv("PAYGATE_MIN_PAYMENT"); v != "" {
		cfg.MinPaymentRaw = v
	}
	if v := os.Getenv("PAYGATE_FRAMES_PER_UNIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.FramesPerUnit = n
		}
	}
	if v := os.Getenv("PAYGATE_LEDGER_BACKEND"); v != "" {
		cfg.LedgerBackend = v
	}
	if v := os.Getenv("PAYGATE_LEDGER_PATH"); v != "" {
		cfg.LedgerPath = v
	}
	if v := os.Getenv("PAYGATE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("PAYGATE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PAYGATE_UPSTREAM"); v != "" {
		cfg.Server.Upstream = v
	}
	if v := os.Getenv("PAYGATE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PAYGATE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PAYGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// MinPaymentAtomic returns the minimum payment in the asset's smallest
// unit, as the decimal string the payment challenge carries.
func (c *Config) MinPaymentAtomic() string {
	return c.MinPayment.Shift(c.AssetDecimals).String()
}

// FramesForMinPayment returns the frames granted by a payment exactly at
// the minimum.
func (c *Config) FramesForMinPayment() int64 {
	return c.MinPayment.Mul(decimal.NewFromInt(c.FramesPerUnit)).IntPart()
}

// Addr returns the host:port the HTTP server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
