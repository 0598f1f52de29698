package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvProductServiceURL = "PRODUCT_SERVICE_URL"
	EnvOrderServiceURL   = "ORDER_SERVICE_URL"
	EnvOrderDataURL      = "ORDER_DATA_URL"
	EnvMockAPIURL        = "MOCK_API_URL" // alias of ORDER_DATA_URL
	EnvLLMProvider       = "LLM_PROVIDER"
	EnvLLMEndpoint       = "LLM_ENDPOINT"
	EnvLLMModel          = "LLM_MODEL"
	EnvLLMTemperature    = "LLM_TEMPERATURE"
	EnvLLMTimeout        = "LLM_TIMEOUT"
	EnvHTTPTimeout       = "HTTP_TIMEOUT"
	EnvHTTPRetries       = "HTTP_RETRIES"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvRateLimit         = "RATE_LIMIT"
	EnvTrustedProxies    = "TRUSTED_PROXIES" // comma-separated CIDRs
	EnvNATSURL           = "NATS_URL"
	EnvCatalogPath       = "CATALOG_PATH"
	EnvTopK              = "RAG_TOP_K"
	EnvLogLevel          = "LOG_LEVEL"
)

// ApplyEnv overlays the environment variables that are set (non-empty) onto
// c. Timeouts are given in seconds. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str(EnvProductServiceURL, &c.Services.ProductURL)
	str(EnvOrderServiceURL, &c.Services.OrderURL)
	str(EnvMockAPIURL, &c.Services.OrderDataURL)
	str(EnvOrderDataURL, &c.Services.OrderDataURL)
	str(EnvLLMProvider, &c.LLM.Provider)
	str(EnvLLMEndpoint, &c.LLM.Endpoint)
	str(EnvLLMModel, &c.LLM.Model)
	str(EnvListenAddr, &c.Server.ListenAddr)
	str(EnvNATSURL, &c.NATS.URL)
	str(EnvCatalogPath, &c.Products.CatalogPath)
	str(EnvLogLevel, &c.Log.Level)

	if v := strings.TrimSpace(getenv(EnvLLMTemperature)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLLMTemperature, err)
		}
		c.LLM.Temperature = f
	}
	if v := strings.TrimSpace(getenv(EnvRateLimit)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRateLimit, err)
		}
		c.Server.RateLimit = f
	}
	if v := strings.TrimSpace(getenv(EnvTrustedProxies)); v != "" {
		c.Server.TrustedProxies = nil
		for _, cidr := range strings.Split(v, ",") {
			if cidr = strings.TrimSpace(cidr); cidr != "" {
				c.Server.TrustedProxies = append(c.Server.TrustedProxies, cidr)
			}
		}
	}

	for key, dst := range map[string]*time.Duration{
		EnvHTTPTimeout: &c.Peer.Timeout,
		EnvLLMTimeout:  &c.LLM.Timeout,
	} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := parseSeconds(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	for key, dst := range map[string]*int{
		EnvHTTPRetries: &c.Peer.Retries,
		EnvTopK:        &c.Products.TopK,
	} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// parseSeconds accepts "30", "2.5" or a Go duration such as "1m".
func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
