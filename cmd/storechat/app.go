package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360studio/storechat/config"
	"github.com/c360studio/storechat/events"
	"github.com/c360studio/storechat/httpapi"
	"github.com/c360studio/storechat/intent"
	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/metrics"
	"github.com/c360studio/storechat/peer"
	chatrouter "github.com/c360studio/storechat/processor/chat-router"
	orderlookup "github.com/c360studio/storechat/processor/order-lookup"
	productsearch "github.com/c360studio/storechat/processor/product-search"
)

// App wires configuration into the service handlers.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// completer overrides the configured LLM endpoint (tests)
	completer llm.Completer

	nc *nats.Conn
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

// Close releases the NATS connection, if any.
func (a *App) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("NATS drain failed", "error", err)
		}
		a.nc = nil
	}
}

// ChatHandler builds the front-door service.
func (a *App) ChatHandler() (http.Handler, error) {
	completer, err := a.llm()
	if err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(completer,
		intent.WithLogger(a.logger),
		intent.WithMetrics(a.metrics))

	router := chatrouter.New(classifier,
		a.peer("products", a.cfg.Services.ProductURL),
		a.peer("orders", a.cfg.Services.OrderURL),
		completer,
		chatrouter.WithLogger(a.logger),
		chatrouter.WithMetrics(a.metrics),
		chatrouter.WithPublisher(a.publisher()))

	limiter, err := a.limiter()
	if err != nil {
		return nil, err
	}

	mux := a.baseMux("chat")
	chatrouter.NewHandler(router, a.logger).RegisterHTTPHandlers("/api/", mux)
	return httpapi.Stack(mux, a.logger, a.metrics, limiter), nil
}

// ProductsHandler builds the product capability.
func (a *App) ProductsHandler() (http.Handler, error) {
	products, err := productsearch.LoadCatalog(a.cfg.Products.CatalogPath)
	if err != nil {
		return nil, err
	}
	index := productsearch.NewIndex(products)
	a.logger.Info("Catalog loaded", "products", index.Len(), "path", a.cfg.Products.CatalogPath)

	completer, err := a.llm()
	if err != nil {
		return nil, err
	}

	svc := productsearch.New(index, completer,
		productsearch.WithTopK(a.cfg.Products.TopK),
		productsearch.WithTemperature(a.cfg.LLM.Temperature),
		productsearch.WithLogger(a.logger),
		productsearch.WithMetrics(a.metrics))

	mux := a.baseMux("products")
	productsearch.NewHandler(svc, a.logger).RegisterHTTPHandlers("/api/products/", mux)
	return a.stack(mux), nil
}

// OrdersHandler builds the order capability.
func (a *App) OrdersHandler() (http.Handler, error) {
	completer, err := a.llm()
	if err != nil {
		return nil, err
	}

	data := orderlookup.NewHTTPDataSource(a.peer("order-data", a.cfg.Services.OrderDataURL))
	svc := orderlookup.New(completer, data,
		orderlookup.WithTemperature(a.cfg.LLM.Temperature),
		orderlookup.WithLogger(a.logger),
		orderlookup.WithMetrics(a.metrics))

	mux := a.baseMux("orders")
	orderlookup.NewHandler(svc, a.logger).RegisterHTTPHandlers("/api/orders/", mux)
	return a.stack(mux), nil
}

func (a *App) llm() (llm.Completer, error) {
	if a.completer != nil {
		return a.completer, nil
	}
	temperature := a.cfg.LLM.Temperature
	client, err := llm.NewClient(llm.EndpointConfig{
		Provider:    a.cfg.LLM.Provider,
		URL:         a.cfg.LLM.Endpoint,
		Model:       a.cfg.LLM.Model,
		Temperature: &temperature,
		Timeout:     a.cfg.LLM.Timeout,
	}, llm.WithLogger(a.logger), llm.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return client, nil
}

func (a *App) peer(name, baseURL string) *peer.Client {
	return peer.New(baseURL,
		peer.WithName(name),
		peer.WithTimeout(a.cfg.Peer.Timeout),
		peer.WithMaxRetries(a.cfg.Peer.Retries),
		peer.WithLogger(a.logger),
		peer.WithMetrics(a.metrics))
}

// publisher connects to NATS when configured. Events are best effort, so a
// failed connection only disables them.
func (a *App) publisher() events.Publisher {
	if a.cfg.NATS.URL == "" {
		return events.Nop{}
	}
	nc, err := events.Connect(a.cfg.NATS.URL, appName+"-chat", a.logger)
	if err != nil {
		a.logger.Warn("Route events disabled", "url", a.cfg.NATS.URL, "error", err)
		return events.Nop{}
	}
	a.nc = nc
	return events.NewNATSPublisher(nc, a.cfg.NATS.SubjectPrefix)
}

func (a *App) baseMux(service string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", httpapi.InfoHandler(appName+"-"+service, Version))
	mux.HandleFunc("GET /health", httpapi.HealthHandler(service))
	mux.Handle("GET /metrics", metrics.Handler(a.registry))
	return mux
}

// stack wraps a capability service. Capabilities are only called by the
// router, so they are not rate limited.
func (a *App) stack(h http.Handler) http.Handler {
	return httpapi.Stack(h, a.logger, a.metrics, nil)
}

// limiter returns the front-door rate limiter, or nil when limiting is off.
func (a *App) limiter() (*httpapi.RateLimiter, error) {
	if a.cfg.Server.RateLimit <= 0 {
		return nil, nil
	}
	proxies, err := httpapi.ParseTrustedProxies(a.cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	return httpapi.NewRateLimiter(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst).TrustProxies(proxies), nil
}
