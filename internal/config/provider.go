// Package config binds environment variables, YAML files and command line
// flags for the two binaries. Precedence is flags over file over environment
// over defaults; main parses flags after LoadFile.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds configuration for the provider agent.
type ProviderConfig struct {
	ServerURL      string        `yaml:"server_url"`
	Token          string        `yaml:"token"`
	BackendURL     string        `yaml:"backend_url"`
	BackendAPIKey  string        `yaml:"backend_api_key"`
	DefaultModel   string        `yaml:"default_model"`
	ProviderID     string        `yaml:"provider_id"`
	ProviderName   string        `yaml:"provider_name"`
	Description    string        `yaml:"description"`
	InputPrice     float64       `yaml:"input_price"`
	OutputPrice    float64       `yaml:"output_price"`
	StatusAddr     string        `yaml:"status_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	Reconnect      bool          `yaml:"reconnect"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	ConfigFile     string        `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ProviderConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", "")
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.ServerURL = GetEnv("SERVER_URL", "ws://localhost:8080/v1/providers/connect")
	c.Token = GetEnv("PROVIDER_TOKEN", "")
	c.BackendURL = GetEnv("BACKEND_URL", "http://127.0.0.1:8000/v1")
	c.BackendAPIKey = GetEnv("BACKEND_API_KEY", "")
	c.DefaultModel = GetEnv("DEFAULT_MODEL", "")
	c.ProviderID = GetEnv("PROVIDER_ID", "")
	c.Description = GetEnv("PROVIDER_DESCRIPTION", "")
	if v, err := strconv.ParseFloat(GetEnv("INPUT_PRICE", "0"), 64); err == nil {
		c.InputPrice = v
	}
	if v, err := strconv.ParseFloat(GetEnv("OUTPUT_PRICE", "0"), 64); err == nil {
		c.OutputPrice = v
	}
	c.StatusAddr = GetEnv("STATUS_ADDR", "")
	c.MetricsAddr = GetEnv("METRICS_ADDR", "")
	if b, err := strconv.ParseBool(GetEnv("RECONNECT", "true")); err == nil {
		c.Reconnect = b
	}
	if v, err := strconv.ParseFloat(GetEnv("REQUEST_TIMEOUT", "300"), 64); err == nil {
		c.RequestTimeout = time.Duration(v * float64(time.Second))
	} else {
		c.RequestTimeout = 5 * time.Minute
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "provider-" + uuid.NewString()[:8]
	}
	c.ProviderName = GetEnv("PROVIDER_NAME", host)

	flag.StringVar(&c.ServerURL, "server-url", c.ServerURL, "marketplace WebSocket URL (e.g. ws://localhost:8080/v1/providers/connect)")
	flag.StringVar(&c.Token, "token", c.Token, "provider credential presented during the handshake")
	flag.StringVar(&c.BackendURL, "backend-url", c.BackendURL, "base URL of the local inference backend (e.g. http://127.0.0.1:8000/v1)")
	flag.StringVar(&c.BackendAPIKey, "backend-api-key", c.BackendAPIKey, "API key for the local backend; leave empty for no auth")
	flag.StringVar(&c.DefaultModel, "default-model", c.DefaultModel, "model substituted when a request asks for \"default\"")
	flag.StringVar(&c.ProviderID, "provider-id", c.ProviderID, "provider identifier; randomly generated if omitted")
	flag.StringVar(&c.ProviderName, "provider-name", c.ProviderName, "provider display name shown to consumers")
	flag.StringVar(&c.Description, "description", c.Description, "provider description shown to consumers")
	flag.Float64Var(&c.InputPrice, "input-price", c.InputPrice, "price per input token")
	flag.Float64Var(&c.OutputPrice, "output-price", c.OutputPrice, "price per output token")
	flag.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "local status HTTP listen address (enables /status; e.g. 127.0.0.1:4555)")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics listen address (disabled when empty)")
	flag.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect to the marketplace on connection loss")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "provider config file path (YAML)")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.Func("request-timeout", "backend request timeout in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
}

// Finalize fills derived fields after flag parsing.
func (c *ProviderConfig) Finalize() {
	if c.ProviderID == "" {
		c.ProviderID = uuid.NewString()
	}
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *ProviderConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// GetEnv returns the value of the environment variable k, or d when unset.
func GetEnv(k, d string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return d
}
