// Package config loads server configuration from YAML with environment
// overrides.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Listen        string         `yaml:"listen"`
	AdminListen   string         `yaml:"admin_listen"`
	AdvertiseHost string         `yaml:"advertise_host"`
	DBPath        string         `yaml:"db_path"`
	AdminToken    string         `yaml:"admin_token"`
	Keystore      KeystoreConfig `yaml:"keystore"`
	Pairing       PairingConfig  `yaml:"pairing"`
	RateLimit     RateConfig     `yaml:"rate_limit"`
	Limits        LimitsConfig   `yaml:"limits"`
	Logging       LoggingConfig  `yaml:"logging"`
	Tracing       TracingConfig  `yaml:"tracing"`
}

type KeystoreConfig struct {
	Dir            string `yaml:"dir"`
	PassphraseFile string `yaml:"passphrase_file"`
}

type PairingConfig struct {
	CodeTTL       int `yaml:"code_ttl_s"`
	TokenTTL      int `yaml:"token_ttl_s"`
	CodeRetention int `yaml:"code_retention_s"`
}

type RateConfig struct {
	MaxFailures int `yaml:"max_failures"`
	Window      int `yaml:"window_s"`
}

type LimitsConfig struct {
	MaxConnections int   `yaml:"max_connections"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
	ConnLifetime   int   `yaml:"conn_lifetime_s"`
	ReadTimeout    int   `yaml:"read_timeout_s"`
	WriteTimeout   int   `yaml:"write_timeout_s"`
	IdleTimeout    int   `yaml:"idle_timeout_s"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Listen:      ":8443",
		AdminListen: "127.0.0.1:8444",
		DBPath:      "pairlock.db",
		Keystore: KeystoreConfig{
			Dir: "keystore",
		},
		Pairing: PairingConfig{
			CodeTTL:       300,
			TokenTTL:      365 * 24 * 3600,
			CodeRetention: 3600,
		},
		RateLimit: RateConfig{
			MaxFailures: 5,
			Window:      60,
		},
		Limits: LimitsConfig{
			MaxConnections: 64,
			MaxBodyBytes:   1 << 20,
			ConnLifetime:   300,
			ReadTimeout:    15,
			WriteTimeout:   15,
			IdleTimeout:    60,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads config from file with env var overrides
func Load(path string) (*ServerConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if listen := os.Getenv("PAIRLOCK_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if admin := os.Getenv("PAIRLOCK_ADMIN_LISTEN"); admin != "" {
		cfg.AdminListen = admin
	}
	if token := os.Getenv("PAIRLOCK_ADMIN_TOKEN"); token != "" {
		cfg.AdminToken = token
	}
	if db := os.Getenv("PAIRLOCK_DB"); db != "" {
		cfg.DBPath = db
	}
	if level := os.Getenv("PAIRLOCK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.AdminListen == "" {
		// An empty bind would publish the admin plane on all interfaces.
		c.AdminListen = "127.0.0.1:8444"
	}
	if !isLoopbackListen(c.AdminListen) {
		return ErrAdminNotLoopback
	}
	if c.Pairing.CodeTTL <= 0 {
		c.Pairing.CodeTTL = 300
	}
	if c.Pairing.TokenTTL <= 0 {
		c.Pairing.TokenTTL = 365 * 24 * 3600
	}
	if c.Pairing.CodeRetention <= 0 {
		c.Pairing.CodeRetention = 3600
	}
	if c.RateLimit.MaxFailures <= 0 {
		c.RateLimit.MaxFailures = 5
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 60
	}
	if c.Limits.MaxConnections <= 0 {
		c.Limits.MaxConnections = 64
	}
	if c.Limits.MaxBodyBytes <= 0 {
		c.Limits.MaxBodyBytes = 1 << 20
	}
	if c.Limits.ConnLifetime <= 0 {
		c.Limits.ConnLifetime = 300
	}
	if c.Limits.ReadTimeout <= 0 {
		c.Limits.ReadTimeout = 15
	}
	if c.Limits.WriteTimeout <= 0 {
		c.Limits.WriteTimeout = 15
	}
	if c.Limits.IdleTimeout <= 0 {
		c.Limits.IdleTimeout = 60
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

// isLoopbackListen accepts only loopback bind addresses for the admin plane.
func isLoopbackListen(listen string) bool {
	host := listen
	if idx := strings.LastIndex(listen, ":"); idx >= 0 {
		host = listen[:idx]
	}
	host = strings.Trim(host, "[]")
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

var (
	ErrMissingListen    = &Error{"listen address is required"}
	ErrAdminNotLoopback = &Error{"admin listener must bind a loopback address"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
