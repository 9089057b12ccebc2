// Package config loads the paygate configuration from environment-style
// key/value pairs, with per-network profile defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/prompthash/paygate/types"
)

// Network profiles.
const (
	ProfileHackathon   = "hackathon"
	ProfileBaseSepolia = "base-sepolia"
)

// NetworkConfig describes one payment network.
type NetworkConfig struct {
	Profile             string `validate:"required,oneof=hackathon base-sepolia"`
	Name                string `validate:"required"`
	ChainID             int64  `validate:"required,gt=0"`
	RPCUrl              string `validate:"required,url"`
	ExplorerURL         string `validate:"required,url"`
	PaymentTokenAddress string `validate:"required"`
	NativeSymbol        string
}

// Network returns the CAIP-2 identifier for this network.
func (n *NetworkConfig) Network() types.Network {
	return types.NetworkForChainID(n.ChainID)
}

// TxURL returns the explorer link for a transaction hash.
func (n *NetworkConfig) TxURL(hash string) string {
	return fmt.Sprintf("%s/tx/%s", n.ExplorerURL, hash)
}

// AddressURL returns the explorer link for an address.
func (n *NetworkConfig) AddressURL(address string) string {
	return fmt.Sprintf("%s/address/%s", n.ExplorerURL, address)
}

// RiskPolicy carries the spend-policy limits and client retry knobs.
type RiskPolicy struct {
	MaxPerTxUSD    decimal.Decimal
	MaxDailyUSD    decimal.Decimal
	RequestTimeout time.Duration
	RetryCount     int
}

// Config is the full paygate configuration surface.
type Config struct {
	Primary  NetworkConfig `validate:"required"`
	Fallback NetworkConfig

	// EnableFallback advertises the fallback network in challenges.
	EnableFallback bool

	FacilitatorURL string `validate:"required,url"`
	PayToAddress   string `validate:"required"`

	// TokenAllowlist holds lower-cased asset addresses the policy engine
	// accepts.
	TokenAllowlist []string `validate:"required,min=1"`

	Policy RiskPolicy

	// Store DSNs for the composing binary.
	PostgresDSN string
	RedisAddr   string

	LogLevel string
}

var defaultHackathon = NetworkConfig{
	Profile:             ProfileHackathon,
	Name:                "SKALE BITE v2 Sandbox",
	ChainID:             103698795,
	RPCUrl:              "https://base-sepolia-testnet.skalenodes.com/v1/bite-v2-sandbox",
	ExplorerURL:         "https://base-sepolia-testnet-explorer.skalenodes.com:10032",
	PaymentTokenAddress: "0xc4083B1E81ceb461Ccef3FDa8A9F24F0d764B6D8",
	NativeSymbol:        "sFUEL",
}

var defaultBaseSepolia = NetworkConfig{
	Profile:             ProfileBaseSepolia,
	Name:                "SKALE Base Sepolia",
	ChainID:             324705682,
	RPCUrl:              "https://testnet.skalenodes.com/v1/aware-fake-trim-testnet",
	ExplorerURL:         "https://base-sepolia-testnet-explorer.skalenodes.com:10032",
	PaymentTokenAddress: "0xc4083B1E81ceb461Ccef3FDa8A9F24F0d764B6D8",
	NativeSymbol:        "sFUEL",
}

const defaultFacilitatorURL = "https://gateway.kobaru.io"

// Env is the key/value lookup configuration is read from. os.LookupEnv in
// production, a map in tests.
type Env func(key string) (string, bool)

// OSEnv reads from the process environment.
func OSEnv(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnv wraps a map for tests.
func MapEnv(m map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func readEnv(env Env, keys []string, fallback string) string {
	for _, key := range keys {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return fallback
}

func readInt(env Env, keys []string, fallback int64) int64 {
	raw := readEnv(env, keys, strconv.FormatInt(fallback, 10))
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func readDecimal(env Env, keys []string, fallback decimal.Decimal) decimal.Decimal {
	raw := readEnv(env, keys, fallback.String())
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func readBool(env Env, keys []string, fallback bool) bool {
	raw := readEnv(env, keys, strconv.FormatBool(fallback))
	return strings.EqualFold(raw, "true")
}

// Load reads the configuration from env, applying profile defaults and
// validating the result.
func Load(env Env) (*Config, error) {
	profile := readEnv(env, []string{"PAYGATE_NETWORK_PROFILE"}, ProfileHackathon)
	primaryDefaults := defaultHackathon
	if profile == ProfileBaseSepolia {
		primaryDefaults = defaultBaseSepolia
	}

	primary := NetworkConfig{
		Profile:             primaryDefaults.Profile,
		Name:                readEnv(env, []string{"PAYGATE_NETWORK_NAME"}, primaryDefaults.Name),
		ChainID:             readInt(env, []string{"PAYGATE_CHAIN_ID"}, primaryDefaults.ChainID),
		RPCUrl:              readEnv(env, []string{"PAYGATE_RPC_URL"}, primaryDefaults.RPCUrl),
		ExplorerURL:         readEnv(env, []string{"PAYGATE_EXPLORER_URL"}, primaryDefaults.ExplorerURL),
		PaymentTokenAddress: readEnv(env, []string{"PAYGATE_PAYMENT_TOKEN", "PAYMENT_TOKEN_ADDRESS"}, primaryDefaults.PaymentTokenAddress),
		NativeSymbol:        readEnv(env, []string{"PAYGATE_NATIVE_SYMBOL"}, primaryDefaults.NativeSymbol),
	}

	fallback := NetworkConfig{
		Profile:             defaultBaseSepolia.Profile,
		Name:                readEnv(env, []string{"PAYGATE_FALLBACK_NETWORK_NAME"}, defaultBaseSepolia.Name),
		ChainID:             readInt(env, []string{"PAYGATE_FALLBACK_CHAIN_ID"}, defaultBaseSepolia.ChainID),
		RPCUrl:              readEnv(env, []string{"PAYGATE_FALLBACK_RPC_URL"}, defaultBaseSepolia.RPCUrl),
		ExplorerURL:         readEnv(env, []string{"PAYGATE_FALLBACK_EXPLORER_URL"}, defaultBaseSepolia.ExplorerURL),
		PaymentTokenAddress: readEnv(env, []string{"PAYGATE_FALLBACK_PAYMENT_TOKEN"}, defaultBaseSepolia.PaymentTokenAddress),
		NativeSymbol:        readEnv(env, []string{"PAYGATE_FALLBACK_NATIVE_SYMBOL"}, defaultBaseSepolia.NativeSymbol),
	}

	cfg := &Config{
		Primary:        primary,
		Fallback:       fallback,
		EnableFallback: readBool(env, []string{"PAYGATE_ENABLE_FALLBACK_NETWORK"}, false),
		FacilitatorURL: readEnv(env, []string{"PAYGATE_FACILITATOR_URL", "X402_FACILITATOR_URL"}, defaultFacilitatorURL),
		PayToAddress:   readEnv(env, []string{"PAYGATE_PAY_TO_ADDRESS", "X402_PAY_TO_ADDRESS"}, "0x000000000000000000000000000000000000dEaD"),
		Policy: RiskPolicy{
			MaxPerTxUSD:    readDecimal(env, []string{"PAYGATE_MAX_PER_TX_USD"}, decimal.NewFromInt(2)),
			MaxDailyUSD:    readDecimal(env, []string{"PAYGATE_MAX_DAILY_USD"}, decimal.NewFromInt(10)),
			RequestTimeout: time.Duration(readInt(env, []string{"PAYGATE_REQUEST_TIMEOUT_MS"}, 15_000)) * time.Millisecond,
			RetryCount:     int(readInt(env, []string{"PAYGATE_RETRY_COUNT"}, 2)),
		},
		PostgresDSN: readEnv(env, []string{"PAYGATE_POSTGRES_DSN", "DATABASE_URL"}, ""),
		RedisAddr:   readEnv(env, []string{"PAYGATE_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		LogLevel:    readEnv(env, []string{"PAYGATE_LOG_LEVEL"}, "info"),
	}

	cfg.TokenAllowlist = []string{
		strings.ToLower(primary.PaymentTokenAddress),
	}
	if lower := strings.ToLower(fallback.PaymentTokenAddress); lower != cfg.TokenAllowlist[0] {
		cfg.TokenAllowlist = append(cfg.TokenAllowlist, lower)
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfigError, "invalid configuration", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration with struct tags plus the numeric
// policy invariants tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Policy.MaxPerTxUSD.IsNegative() || c.Policy.MaxDailyUSD.IsNegative() {
		return fmt.Errorf("spend caps must not be negative")
	}
	if c.Policy.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Policy.RetryCount < 0 {
		return fmt.Errorf("retry count must not be negative")
	}
	if c.EnableFallback {
		if err := validate.Struct(&c.Fallback); err != nil {
			return fmt.Errorf("invalid fallback network: %w", err)
		}
	}
	return nil
}
