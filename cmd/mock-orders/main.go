// Package main implements a mock order data API for local runs and e2e tests.
// It serves the /data/... endpoints the order capability reads from, backed
// by a JSON fixture of order records, so the order flow works without the
// real data warehouse.
//
// Usage:
//
//	mock-orders --fixtures /path/to/orders.json --listen :8003
//
// Without --fixtures the embedded sample orders are served.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/storechat/httpapi"
)

//go:embed fixtures/orders.json
var defaultOrders []byte

// DefaultProfitThreshold applies when /data/high-profit-products has no threshold.
const DefaultProfitThreshold = 100.0

// order is one fixture row. Field names match the order data warehouse.
type order struct {
	OrderDate       string  `json:"Order_Date"`
	Time            string  `json:"Time"`
	Aging           float64 `json:"Aging"`
	CustomerID      int64   `json:"Customer_Id"`
	Gender          string  `json:"Gender"`
	DeviceType      string  `json:"Device_Type"`
	LoginType       string  `json:"Customer_Login_type"`
	ProductCategory string  `json:"Product_Category"`
	Product         string  `json:"Product"`
	Sales           float64 `json:"Sales"`
	Quantity        int     `json:"Quantity"`
	Discount        float64 `json:"Discount"`
	Profit          float64 `json:"Profit"`
	ShippingCost    float64 `json:"Shipping_Cost"`
	OrderPriority   string  `json:"Order_Priority"`
	PaymentMethod   string  `json:"Payment_method"`
}

type categorySales struct {
	Category   string  `json:"Product_Category"`
	TotalSales float64 `json:"Total_Sales"`
}

type genderProfit struct {
	Gender      string  `json:"Gender"`
	TotalProfit float64 `json:"Total_Profit"`
}

type shippingSummary struct {
	Orders  int     `json:"orders"`
	Total   float64 `json:"total_shipping_cost"`
	Average float64 `json:"average_shipping_cost"`
	Min     float64 `json:"min_shipping_cost"`
	Max     float64 `json:"max_shipping_cost"`
}

type server struct {
	orders []order
	calls  atomic.Int64

	// per-route call counters, keyed by mux pattern
	routeCalls   map[string]*atomic.Int64
	routeCallsMu sync.Mutex
}

func newServer(orders []order) *server {
	return &server{
		orders:     orders,
		routeCalls: make(map[string]*atomic.Int64),
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		fixturePath string
		listenAddr  string
	)

	cmd := &cobra.Command{
		Use:          "mock-orders",
		Short:        "Mock order data API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixturePath == "" {
				fixturePath = os.Getenv("MOCK_ORDERS_FIXTURES")
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			slog.SetDefault(logger)

			orders, err := loadOrders(fixturePath)
			if err != nil {
				return err
			}
			logger.Info("Loaded orders", "count", len(orders), "fixtures", fixturePath)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			s := newServer(orders)
			return httpapi.Serve(ctx, listenAddr, httpapi.Stack(s.routes(), logger, nil, nil), logger)
		},
	}

	cmd.Flags().StringVar(&fixturePath, "fixtures", "", "JSON file of order records (default: embedded sample)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8003", "Listen address")
	return cmd
}

// loadOrders reads the fixture at path, or the embedded sample when path is empty.
func loadOrders(path string) ([]order, error) {
	data := defaultOrders
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read fixtures: %w", err)
		}
	}

	var orders []order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("no orders in fixtures %s", path)
	}
	return orders, nil
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.handle(mux, "GET /data/customer/{customer_id}", s.handleCustomer)
	s.handle(mux, "GET /data/product-category/{category}", s.handleCategory)
	s.handle(mux, "GET /data/order-priority/{priority}", s.handlePriority)
	s.handle(mux, "GET /data/total-sales-by-category", s.handleSalesByCategory)
	s.handle(mux, "GET /data/high-profit-products", s.handleHighProfit)
	s.handle(mux, "GET /data/shipping-cost-summary", s.handleShippingSummary)
	s.handle(mux, "GET /data/profit-by-gender", s.handleProfitByGender)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", httpapi.HealthHandler("mock-orders"))
	return mux
}

// handle registers h and counts its calls for /stats.
func (s *server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.routeCounter(pattern).Add(1)
		h(w, r)
	})
}

func (s *server) routeCounter(pattern string) *atomic.Int64 {
	s.routeCallsMu.Lock()
	defer s.routeCallsMu.Unlock()
	if c, ok := s.routeCalls[pattern]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.routeCalls[pattern] = c
	return c
}

func (s *server) handleCustomer(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("customer_id")
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid customer id %q", raw))
		return
	}
	s.writeMatches(w, fmt.Sprintf("No orders found for customer %d", id), func(o order) bool {
		return o.CustomerID == id
	})
}

func (s *server) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	s.writeMatches(w, fmt.Sprintf("No orders found in category %q", category), func(o order) bool {
		return strings.EqualFold(o.ProductCategory, category)
	})
}

func (s *server) handlePriority(w http.ResponseWriter, r *http.Request) {
	priority := r.PathValue("priority")
	s.writeMatches(w, fmt.Sprintf("No orders found with priority %q", priority), func(o order) bool {
		return strings.EqualFold(o.OrderPriority, priority)
	})
}

func (s *server) handleHighProfit(w http.ResponseWriter, r *http.Request) {
	threshold := DefaultProfitThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid threshold %q", v))
			return
		}
		threshold = f
	}

	matches := s.filter(func(o order) bool { return o.Profit > threshold })
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Profit > matches[j].Profit })
	httpapi.WriteJSON(w, http.StatusOK, matches)
}

func (s *server) handleSalesByCategory(w http.ResponseWriter, _ *http.Request) {
	totals := make(map[string]float64)
	for _, o := range s.orders {
		totals[o.ProductCategory] += o.Sales
	}

	out := make([]categorySales, 0, len(totals))
	for category, total := range totals {
		out = append(out, categorySales{Category: category, TotalSales: round2(total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSales > out[j].TotalSales })
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (s *server) handleProfitByGender(w http.ResponseWriter, _ *http.Request) {
	totals := make(map[string]float64)
	for _, o := range s.orders {
		totals[o.Gender] += o.Profit
	}

	out := make([]genderProfit, 0, len(totals))
	for gender, total := range totals {
		out = append(out, genderProfit{Gender: gender, TotalProfit: round2(total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gender < out[j].Gender })
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (s *server) handleShippingSummary(w http.ResponseWriter, _ *http.Request) {
	summary := shippingSummary{Orders: len(s.orders), Min: math.Inf(1)}
	for _, o := range s.orders {
		summary.Total += o.ShippingCost
		summary.Min = min(summary.Min, o.ShippingCost)
		summary.Max = max(summary.Max, o.ShippingCost)
	}
	if summary.Orders == 0 {
		summary.Min = 0
	} else {
		summary.Average = round2(summary.Total / float64(summary.Orders))
	}
	summary.Total = round2(summary.Total)
	httpapi.WriteJSON(w, http.StatusOK, summary)
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.routeCallsMu.Lock()
	byRoute := make(map[string]int64, len(s.routeCalls))
	for pattern, counter := range s.routeCalls {
		byRoute[pattern] = counter.Load()
	}
	s.routeCallsMu.Unlock()

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_route": byRoute,
	})
}

func (s *server) filter(keep func(order) bool) []order {
	out := []order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// writeMatches answers 404 with notFound when nothing matches.
func (s *server) writeMatches(w http.ResponseWriter, notFound string, keep func(order) bool) {
	matches := s.filter(keep)
	if len(matches) == 0 {
		httpapi.WriteError(w, http.StatusNotFound, notFound)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, matches)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
