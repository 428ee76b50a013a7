package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ka1ii/developer-challenge/crypto"
)

const envPrefix = "AGREEMENT_GATEWAY_"

type NodeConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// UserConfig binds a marketplace username to its ledger account.
type UserConfig struct {
	Username string `yaml:"username"`
	Address  string `yaml:"address"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// DocumentsConfig locates the Postgres database holding contract documents.
type DocumentsConfig struct {
	DSN string `yaml:"dsn"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type ObservabilityConfig struct {
	ServiceName   string  `yaml:"serviceName"`
	Metrics       bool    `yaml:"metrics"`
	Tracing       bool    `yaml:"tracing"`
	LogRequests   bool    `yaml:"logRequests"`
	MetricsPrefix string  `yaml:"metricsPrefix"`
	OTLPEndpoint  string  `yaml:"otlpEndpoint"`
	OTLPInsecure  bool    `yaml:"otlpInsecure"`
	SampleRatio   float64 `yaml:"sampleRatio"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig enables JWT identities. When disabled the caller is named by
// the username header.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HMACSecret    string        `yaml:"hmacSecret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	UsernameClaim string        `yaml:"usernameClaim"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	Environment   string              `yaml:"environment"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	HashScheme    string              `yaml:"hashScheme"`
	AuditDatabase string              `yaml:"auditDatabase"`
	Node          NodeConfig          `yaml:"node"`
	Users         []UserConfig        `yaml:"users"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Documents     DocumentsConfig     `yaml:"documents"`
	CORS          CORSConfig          `yaml:"cors"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":4000",
		Environment:   "local",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		HashScheme:    string(crypto.SchemeKeccak256),
		AuditDatabase: "agreement-gateway.db",
		Node: NodeConfig{
			Endpoint: "http://127.0.0.1:8545",
			Timeout:  15 * time.Second,
		},
		Auth: AuthConfig{
			UsernameClaim: "sub",
			ClockSkew:     2 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Documents: DocumentsConfig{DSN: "host=localhost user=market dbname=market sslmode=disable"},
		Observability: ObservabilityConfig{
			ServiceName:   "agreement-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "agreement_gateway",
			SampleRatio:   1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads the YAML configuration at path over the defaults, then applies
// AGREEMENT_GATEWAY_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LISTEN", &cfg.ListenAddress)
	str("ENV", &cfg.Environment)
	str("NODE_URL", &cfg.Node.Endpoint)
	str("NODE_TOKEN", &cfg.Node.AuthToken)
	str("JWT_SECRET", &cfg.Auth.HMACSecret)
	str("DOCUMENTS_DSN", &cfg.Documents.DSN)
	str("AUDIT_DB", &cfg.AuditDatabase)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)
	if v, ok := lookup(envPrefix + "AUTH_ENABLED"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %sAUTH_ENABLED: %w", envPrefix, err)
		}
		cfg.Auth.Enabled = enabled
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	endpoint, err := url.Parse(strings.TrimSpace(cfg.Node.Endpoint))
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return fmt.Errorf("node.endpoint must be an absolute URL")
	}
	if _, err := crypto.ParseHashScheme(cfg.HashScheme); err != nil {
		return fmt.Errorf("hashScheme: %w", err)
	}
	if strings.TrimSpace(cfg.Documents.DSN) == "" {
		return fmt.Errorf("documents.dsn required")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth.enabled is true")
	}
	if cfg.Auth.UsernameClaim == "" {
		cfg.Auth.UsernameClaim = "sub"
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit values must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Users))
	for i, user := range cfg.Users {
		name := strings.TrimSpace(user.Username)
		if name == "" {
			return fmt.Errorf("users[%d].username required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("users[%d]: duplicate username %q", i, name)
		}
		seen[name] = struct{}{}
		if _, err := crypto.ParseAccount(user.Address); err != nil {
			return fmt.Errorf("users[%d].address: %w", i, err)
		}
	}
	return nil
}
