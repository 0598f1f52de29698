// Package config provides configuration loading and management for storechat.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storechat configuration. It is built once
// at startup and read-only afterwards.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Services ServicesConfig `yaml:"services"`
	Peer     PeerConfig     `yaml:"peer"`
	LLM      LLMConfig      `yaml:"llm"`
	Products ProductsConfig `yaml:"products"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the inbound HTTP listener
type ServerConfig struct {
	// ListenAddr is the address the service binds (e.g., ":8000")
	ListenAddr string `yaml:"listen_addr"`
	// RateLimit is the sustained requests per second allowed per client IP
	// on the chat front door (0 = unlimited). Capability services are not
	// limited since all their traffic comes from the router.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the bucket size for RateLimit
	RateBurst int `yaml:"rate_burst"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For and X-Real-IP headers
	// identify the client. Other peers are keyed by connection address.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// ServicesConfig holds the base addresses of the peer services
type ServicesConfig struct {
	// ProductURL is the product capability base (POST <base>/query)
	ProductURL string `yaml:"product_url"`
	// OrderURL is the order capability base (POST <base>/query)
	OrderURL string `yaml:"order_url"`
	// OrderDataURL is the order data API the order capability reads from
	OrderDataURL string `yaml:"order_data_url"`
}

// PeerConfig bounds every call to a peer service
type PeerConfig struct {
	// Timeout is the per-attempt deadline
	Timeout time.Duration `yaml:"timeout"`
	// Retries is how many times a 5xx or transport failure is retried
	Retries int `yaml:"retries"`
}

// LLMConfig configures the text-generation backend
type LLMConfig struct {
	// Provider selects the wire format: openai, ollama or anthropic
	Provider string `yaml:"provider"`
	// Endpoint is the API base URL
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier (e.g., "gpt-4o")
	Model string `yaml:"model"`
	// Temperature controls randomness (0.0-2.0, default: 0.1)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for one completion
	Timeout time.Duration `yaml:"timeout"`
}

// ProductsConfig configures the product capability
type ProductsConfig struct {
	// CatalogPath is a YAML catalog file (empty = built-in catalog)
	CatalogPath string `yaml:"catalog_path"`
	// TopK is how many catalog entries are retrieved per question
	TopK int `yaml:"top_k"`
}

// NATSConfig configures route event publishing
type NATSConfig struct {
	// URL is the NATS server URL (empty = events disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is the subject root for route events
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			RateLimit:  10,
			RateBurst:  20,
		},
		Services: ServicesConfig{
			ProductURL:   "http://product-service:8001/api/products",
			OrderURL:     "http://order-service:8002/api/orders",
			OrderDataURL: "http://mock-orders:8003",
		},
		Peer: PeerConfig{
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Products: ProductsConfig{
			TopK: 4,
		},
		NATS: NATSConfig{
			SubjectPrefix: "storechat.route",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate limiting")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if err := validateCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies: %w", err)
		}
	}

	for name, raw := range map[string]string{
		"services.product_url":    c.Services.ProductURL,
		"services.order_url":      c.Services.OrderURL,
		"services.order_data_url": c.Services.OrderDataURL,
		"llm.endpoint":            c.LLM.Endpoint,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Peer.Timeout <= 0 {
		return fmt.Errorf("peer.timeout must be positive")
	}
	if c.Peer.Retries < 0 || c.Peer.Retries > 10 {
		return fmt.Errorf("peer.retries must be between 0 and 10")
	}

	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}

	if c.Products.TopK < 1 {
		return fmt.Errorf("products.top_k must be at least 1")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %q", raw)
	}
	return nil
}

// validateCIDR accepts a CIDR range or a bare IP address.
func validateCIDR(raw string) error {
	if strings.Contains(raw, "/") {
		if _, _, err := net.ParseCIDR(raw); err != nil {
			return fmt.Errorf("invalid CIDR %q", raw)
		}
		return nil
	}
	if net.ParseIP(raw) == nil {
		return fmt.Errorf("invalid address %q", raw)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.ApplyFile(path); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyFile overlays the keys present in a YAML file onto c. Keys the file
// does not mention keep their current value, including zero values set
// explicitly in the file.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.ListenAddr != "" {
		c.Server.ListenAddr = other.Server.ListenAddr
	}
	if other.Server.RateLimit != 0 {
		c.Server.RateLimit = other.Server.RateLimit
	}
	if other.Server.RateBurst != 0 {
		c.Server.RateBurst = other.Server.RateBurst
	}
	if len(other.Server.TrustedProxies) > 0 {
		c.Server.TrustedProxies = append([]string(nil), other.Server.TrustedProxies...)
	}

	// Services
	if other.Services.ProductURL != "" {
		c.Services.ProductURL = other.Services.ProductURL
	}
	if other.Services.OrderURL != "" {
		c.Services.OrderURL = other.Services.OrderURL
	}
	if other.Services.OrderDataURL != "" {
		c.Services.OrderDataURL = other.Services.OrderDataURL
	}

	// Peer
	if other.Peer.Timeout != 0 {
		c.Peer.Timeout = other.Peer.Timeout
	}
	if other.Peer.Retries != 0 {
		c.Peer.Retries = other.Peer.Retries
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Products
	if other.Products.CatalogPath != "" {
		c.Products.CatalogPath = other.Products.CatalogPath
	}
	if other.Products.TopK != 0 {
		c.Products.TopK = other.Products.TopK
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
