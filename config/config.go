package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration of the ledger node.
type Config struct {
	RPCAddress           string              `toml:"RPCAddress"`
	DataDir              string              `toml:"DataDir"`
	OperatorKeystorePath string              `toml:"OperatorKeystorePath"`
	Environment          string              `toml:"Environment"`
	Token                TokenConfig         `toml:"Token"`
	RPC                  RPCConfig           `toml:"RPC"`
	Log                  LogConfig           `toml:"Log"`
	Observability        ObservabilityConfig `toml:"Observability"`
	Snapshot             SnapshotConfig      `toml:"Snapshot"`
}

// TokenConfig describes the token registered at genesis.
type TokenConfig struct {
	Name     string `toml:"Name"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// InitialSupply is a decimal amount in base units minted to the operator.
	InitialSupply string `toml:"InitialSupply"`
}

type RPCConfig struct {
	// AuthTokenEnv names the environment variable holding the bearer token
	// required for state-changing methods.
	AuthTokenEnv       string   `toml:"AuthTokenEnv"`
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	Burst              int      `toml:"Burst"`
	AllowedOrigins     []string `toml:"AllowedOrigins"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `toml:"OTLPEndpoint"`
	OTLPHeaders  string  `toml:"OTLPHeaders"`
	Insecure     bool    `toml:"Insecure"`
	Metrics      bool    `toml:"Metrics"`
	Traces       bool    `toml:"Traces"`
	SampleRatio  float64 `toml:"SampleRatio"`
}

// SnapshotConfig controls periodic parquet exports of all agreements.
// An empty Schedule disables them.
type SnapshotConfig struct {
	Schedule string `toml:"Schedule"`
	Dir      string `toml:"Dir"`
}

// InitialSupplyAmount parses the configured genesis supply.
func (t TokenConfig) InitialSupplyAmount() (*big.Int, error) {
	trimmed := strings.TrimSpace(t.InitialSupply)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("token: invalid initial supply %q", t.InitialSupply)
	}
	return amount, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8545",
		DataDir:     "./market-data",
		Environment: "local",
		Token: TokenConfig{
			Name:          "Coin",
			Symbol:        "COIN",
			Decimals:      18,
			InitialSupply: "1000",
		},
		RPC: RPCConfig{
			AuthTokenEnv:       "MARKET_RPC_TOKEN",
			RateLimitPerSecond: 50,
			Burst:              100,
		},
		Log: LogConfig{Level: "info"},
		Observability: ObservabilityConfig{
			OTLPEndpoint: "localhost:4318",
			Insecure:     true,
		},
	}
}

// Load loads the configuration from path, writing the defaults there first
// when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.OperatorKeystorePath) == "" {
		cfg.OperatorKeystorePath = defaultKeystorePath(path)
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.Snapshot.Dir) == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.DataDir, "snapshots")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	cfg.OperatorKeystorePath = defaultKeystorePath(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.Snapshot.Dir = filepath.Join(cfg.DataDir, "snapshots")
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

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "operator.keystore")
}
