// Package config loads the governance agent's layered configuration:
// defaults < profile < file < environment < CLI flags, per spec section 6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// GatewayConfig describes one configured IPFS gateway endpoint.
type GatewayConfig struct {
	URL         string        `yaml:"url"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ProviderConfig describes one configured LLM provider in fallback order.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // openai | anthropic | opencode
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Config is the fully merged, validated runtime configuration.
type Config struct {
	Environment string `yaml:"environment"`

	RPCURL              string         `yaml:"rpc_url"`
	GovernorAddress     common.Address `yaml:"-"`
	GovernorAddressHex  string         `yaml:"governor"`
	DappRegistryAddress common.Address `yaml:"-"`
	DappRegistryHex     string         `yaml:"dapp_registry"`

	SafeConfirmations uint64        `yaml:"safe_confirmations"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	LogChunkSize      uint64        `yaml:"log_chunk_size"`

	AutoVote               bool   `yaml:"auto_vote"`
	KeystorePath           string `yaml:"keystore_path"`
	KeystorePasswordEnv    string `yaml:"keystore_password_env"`
	KeystorePassword       string `yaml:"-"`
	MinVoteBlocksRemaining uint64 `yaml:"min_vote_blocks_remaining"`
	MaxGasPriceGwei        uint64 `yaml:"max_gas_price_gwei"`
	MaxPriorityFeeGwei     uint64 `yaml:"max_priority_fee_gwei"`

	DecisionProfile  string  `yaml:"decision_profile"`
	ApproveThreshold float64 `yaml:"approve_threshold"`
	RejectThreshold  float64 `yaml:"reject_threshold"`

	IPFSCacheDir string          `yaml:"ipfs_cache_dir"`
	DataDir      string          `yaml:"data_dir"`
	Gateways     []GatewayConfig `yaml:"gateways"`

	Providers         []ProviderConfig `yaml:"providers"`
	ForbiddenPatterns []string         `yaml:"forbidden_patterns"`
	MaxBundleBytes    int64            `yaml:"max_bundle_bytes"`
	MaxBundleFiles    int              `yaml:"max_bundle_files"`
	SecretPatterns    []string         `yaml:"secret_patterns"`

	NotifierWebhookURL    string `yaml:"notifier_webhook_url"`
	NotifierWebhookSecret string `yaml:"notifier_webhook_secret"`

	StatusListenAddress string `yaml:"status_listen"`
}

// defaults returns the built-in baseline configuration before any profile,
// file, environment, or flag override is applied.
func defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Environment:            "devnet",
		SafeConfirmations:      3,
		PollInterval:           12 * time.Second,
		LogChunkSize:           2000,
		MinVoteBlocksRemaining: 30,
		MaxGasPriceGwei:        150,
		MaxPriorityFeeGwei:     5,
		DecisionProfile:        "balanced",
		IPFSCacheDir:           home + "/.cache/VibeFi",
		DataDir:                home + "/.local/share/govagent",
		MaxBundleBytes:         32 << 20,
		MaxBundleFiles:         2000,
		StatusListenAddress:    ":8090",
		SecretPatterns: []string{
			`(?i)sk-[a-z0-9]{20,}`,
			`(?i)api[_-]?key\s*[:=]\s*\S+`,
			`(?i)bearer\s+[a-z0-9._-]{10,}`,
			`0x[0-9a-fA-F]{64}`,
		},
	}
}

// applyProfile applies known chain-environment aliases. Unknown profiles are
// left to file/env overrides.
func applyProfile(cfg *Config, profile string) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "devnet", "local", "localnet":
		cfg.Environment = "devnet"
		cfg.SafeConfirmations = 3
	case "public", "mainnet", "testnet":
		cfg.Environment = "public"
		cfg.SafeConfirmations = 6
	}
}

// Load builds the effective configuration: defaults, then GOV_AGENT_PROFILE
// applied as a chain-environment alias, then the optional YAML file at path,
// then environment variable overrides. CLI flag overrides are applied by the
// caller afterward by setting fields on the returned Config, matching the
// precedence order
// defaults < profile < file < env < CLI documented in spec section 9.
func Load(path string) (Config, error) {
	cfg := defaults()
	applyProfile(&cfg, os.Getenv("GOV_AGENT_PROFILE"))

	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.resolveAddresses(); err != nil {
		return Config{}, err
	}
	if err := cfg.resolveSecrets(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("GOV_AGENT_RPC_URL"); ok {
		cfg.RPCURL = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_GOVERNOR"); ok {
		cfg.GovernorAddressHex = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_DAPP_REGISTRY"); ok {
		cfg.DappRegistryHex = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_AUTO_VOTE"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.AutoVote = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_KEYSTORE_PATH"); ok {
		cfg.KeystorePath = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_KEYSTORE_PASSWORD"); ok {
		cfg.KeystorePassword = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_MIN_VOTE_BLOCKS_REMAINING"); ok {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MinVoteBlocksRemaining = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_MAX_GAS_PRICE_GWEI"); ok {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxGasPriceGwei = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_MAX_PRIORITY_FEE_GWEI"); ok {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxPriorityFeeGwei = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_APPROVE_THRESHOLD"); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ApproveThreshold = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_REJECT_THRESHOLD"); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RejectThreshold = parsed
		}
	}
	if v, ok := os.LookupEnv("GOV_AGENT_DECISION_PROFILE"); ok {
		cfg.DecisionProfile = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_IPFS_CACHE_DIR"); ok {
		cfg.IPFSCacheDir = v
	}
	if v, ok := os.LookupEnv("GOV_AGENT_DATA_DIR"); ok {
		cfg.DataDir = v
	}
}

func (cfg *Config) resolveAddresses() error {
	if strings.TrimSpace(cfg.GovernorAddressHex) == "" {
		return fmt.Errorf("config: governor address required")
	}
	if !common.IsHexAddress(cfg.GovernorAddressHex) {
		return fmt.Errorf("config: governor address %q is not a valid hex address", cfg.GovernorAddressHex)
	}
	cfg.GovernorAddress = common.HexToAddress(cfg.GovernorAddressHex)

	if strings.TrimSpace(cfg.DappRegistryHex) == "" {
		return fmt.Errorf("config: dapp_registry address required")
	}
	if !common.IsHexAddress(cfg.DappRegistryHex) {
		return fmt.Errorf("config: dapp_registry address %q is not a valid hex address", cfg.DappRegistryHex)
	}
	cfg.DappRegistryAddress = common.HexToAddress(cfg.DappRegistryHex)
	return nil
}

// resolveSecrets fills in API keys and the keystore passphrase from the
// *_env indirection fields when the direct value was not already supplied.
func (cfg *Config) resolveSecrets() error {
	if cfg.KeystorePassword == "" && cfg.KeystorePasswordEnv != "" {
		cfg.KeystorePassword = os.Getenv(cfg.KeystorePasswordEnv)
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
	return nil
}

// Validate checks structural invariants that are cheap to verify before the
// agent starts driving proposals.
func (cfg *Config) Validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("config: rpc_url required")
	}
	if cfg.KeystorePath == "" {
		return fmt.Errorf("config: keystore_path required")
	}
	if cfg.RejectThreshold != 0 && cfg.ApproveThreshold != 0 && cfg.RejectThreshold <= cfg.ApproveThreshold {
		return fmt.Errorf("config: reject_threshold must be greater than approve_threshold")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data_dir required")
	}
	if len(cfg.Gateways) == 0 {
		return fmt.Errorf("config: at least one gateway required")
	}
	return nil
}

// Redacted returns a copy of cfg with secret-bearing fields masked, suitable
// for `config print` and for logging.
func (cfg Config) Redacted() Config {
	out := cfg
	if out.KeystorePassword != "" {
		out.KeystorePassword = "[REDACTED]"
	}
	out.Providers = append([]ProviderConfig(nil), cfg.Providers...)
	for i := range out.Providers {
		if out.Providers[i].APIKey != "" {
			out.Providers[i].APIKey = "[REDACTED]"
		}
	}
	if out.NotifierWebhookSecret != "" {
		out.NotifierWebhookSecret = "[REDACTED]"
	}
	return out
}
