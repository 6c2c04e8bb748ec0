package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const envPrefix = "ESCROW_"

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	GenesisFile    string `toml:"GenesisFile"`
	NetworkName    string `toml:"NetworkName"`
	ChainID        uint64 `toml:"ChainID"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile"`
	// RPCAuthToken gates tx_send behind a bearer token when set.
	RPCAuthToken string `toml:"RPCAuthToken"`

	Deposits  Deposits  `toml:"Deposits"`
	RateLimit RateLimit `toml:"RateLimit"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:     ":8080",
		MetricsAddress: "",
		DataDir:        "./escrow-data",
		GenesisFile:    "",
		NetworkName:    "escrow-local",
		ChainID:        1,
		LogLevel:       "info",
		Deposits: Deposits{
			EscrowRecord: 10,
			TokenAccount: 2,
			Mint:         10,
		},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Telemetry: Telemetry{Insecure: true},
	}
}

// Load loads the configuration from the given path. A default file is written
// when none exists. ESCROW_* environment variables override file values.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = Default()
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *uint64) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("RPC_ADDRESS", &cfg.RPCAddress)
	str("METRICS_ADDRESS", &cfg.MetricsAddress)
	str("DATA_DIR", &cfg.DataDir)
	str("GENESIS_FILE", &cfg.GenesisFile)
	str("NETWORK_NAME", &cfg.NetworkName)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)
	str("RPC_AUTH_TOKEN", &cfg.RPCAuthToken)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTLP_HEADERS", &cfg.Telemetry.Headers)

	for name, dst := range map[string]*uint64{
		"CHAIN_ID":              &cfg.ChainID,
		"DEPOSIT_ESCROW_RECORD": &cfg.Deposits.EscrowRecord,
		"DEPOSIT_TOKEN_ACCOUNT": &cfg.Deposits.TokenAccount,
		"DEPOSIT_MINT":          &cfg.Deposits.Mint,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(envPrefix + "RPC_TRUST_PROXY"); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sRPC_TRUST_PROXY: %w", envPrefix, err)
		}
		cfg.RateLimit.TrustProxyHeaders = parsed
	}
	if v, ok := lookup(envPrefix + "OTLP_INSECURE"); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sOTLP_INSECURE: %w", envPrefix, err)
		}
		cfg.Telemetry.Insecure = parsed
	}
	return nil
}
