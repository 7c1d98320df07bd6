package config

import (
	"flag"
	"os"

	"gopkg.in/yaml.v3"
)

// ProxyConfig holds configuration for the signing proxy.
type ProxyConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	UpstreamURL string `yaml:"upstream_url"`
	PrivateKey  string `yaml:"private_key"`
	MaxAmount   string `yaml:"max_amount"`
	LogLevel    string `yaml:"log_level"`
	ConfigFile  string `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ProxyConfig) BindFlags() {
	c.ConfigFile = GetEnv("CONFIG_FILE", "")
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.ListenAddr = GetEnv("LISTEN_ADDR", "127.0.0.1:8402")
	c.UpstreamURL = GetEnv("UPSTREAM_URL", "http://localhost:8080")
	c.PrivateKey = GetEnv("PRIVATE_KEY", "")
	c.MaxAmount = GetEnv("MAX_AMOUNT", "")

	flag.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "loopback address the proxy listens on")
	flag.StringVar(&c.UpstreamURL, "upstream-url", c.UpstreamURL, "marketplace gateway base URL")
	flag.StringVar(&c.PrivateKey, "private-key", c.PrivateKey, "hex private key used to sign payment authorizations")
	flag.StringVar(&c.MaxAmount, "max-amount", c.MaxAmount, "ceiling on any single payment authorization, in token base units")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "proxy config file path (YAML)")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// LoadFile populates the config from a YAML file. Fields already set remain
// unless overwritten by corresponding entries in the file.
func (c *ProxyConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
