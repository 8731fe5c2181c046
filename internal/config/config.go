// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList        []string `mapstructure:"rpc_list"`
	IndexerURL     string   `mapstructure:"indexer_url"`
	MetadataAPIURL string   `mapstructure:"metadata_api_url"`
	WalletKeyFile  string   `mapstructure:"wallet_key_file"`
	PostgresURL    string   `mapstructure:"postgres_url"`

	// Параметры исполнения.
	SlippageBps        uint64 `mapstructure:"slippage_bps"`
	GasReserveLamports uint64 `mapstructure:"gas_reserve_lamports"`
	PriorityLevel      string `mapstructure:"priority_level"`
	Retries            int    `mapstructure:"retries"`
	SimulateFirst      bool   `mapstructure:"simulate_first"`

	// Параметры загрузки портфеля.
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
	FetchBatchDelay  int `mapstructure:"fetch_batch_delay"` // миллисекунды между партиями

	DebugLogging bool `mapstructure:"debug_logging"`
}

const (
	DefaultSlippageBps        = 100 // 1%
	DefaultGasReserveLamports = 50_000_000
	DefaultRetries            = 3
	DefaultFetchConcurrency   = 4
	DefaultFetchBatchDelay    = 250
	DefaultPriorityLevel      = "medium"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"slippage_bps":         DefaultSlippageBps,
		"gas_reserve_lamports": DefaultGasReserveLamports,
		"retries":              DefaultRetries,
		"fetch_concurrency":    DefaultFetchConcurrency,
		"fetch_batch_delay":    DefaultFetchBatchDelay,
		"priority_level":       DefaultPriorityLevel,
		"simulate_first":       true,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.IndexerURL != "" {
		if err := validateURLWithCache(cfg.IndexerURL, "http"); err != nil {
			return errors.New("invalid indexer URL protocol")
		}
	}
	if cfg.MetadataAPIURL != "" {
		if err := validateURLWithCache(cfg.MetadataAPIURL, "http"); err != nil {
			return errors.New("invalid metadata API URL protocol")
		}
	}
	if cfg.WalletKeyFile == "" {
		return errors.New("missing wallet_key_file in configuration")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.SlippageBps >= 10_000 {
		return errors.New("slippage_bps must be below 10000")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.FetchConcurrency <= 0 {
		return errors.New("invalid fetch_concurrency")
	}
	if cfg.FetchBatchDelay < 0 {
		return errors.New("invalid fetch_batch_delay")
	}
	switch cfg.PriorityLevel {
	case "low", "medium", "high":
	default:
		return errors.New("priority_level must be low, medium or high")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("CLMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envKeyFile := v.GetString("WALLET_KEY_FILE")
	if envKeyFile != "" {
		cfg.WalletKeyFile = envKeyFile
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}

	envPostgres := v.GetString("POSTGRES_URL")
	if envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	return nil
}
