package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrders_Embedded(t *testing.T) {
	orders, err := loadOrders("")
	if err != nil {
		t.Fatalf("loadOrders: %v", err)
	}
	if len(orders) != 12 {
		t.Fatalf("expected 12 orders, got %d", len(orders))
	}
	if orders[0].CustomerID != 37077 || orders[0].OrderDate != "2024-01-03" {
		t.Errorf("unexpected first order: %+v", orders[0])
	}
}

func TestLoadOrders_File(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "orders.json", `[{"Customer_Id": 1, "Product": "Kazoo", "Sales": 3}]`)

	orders, err := loadOrders(path)
	if err != nil {
		t.Fatalf("loadOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].Product != "Kazoo" {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestLoadOrders_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing": filepath.Join(dir, "missing.json"),
		"invalid": writeFixture(t, dir, "invalid.json", `{not json`),
		"empty":   writeFixture(t, dir, "empty.json", `[]`),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadOrders(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCustomerOrders(t *testing.T) {
	s := testServer(t)

	var orders []order
	status := get(t, s, "/data/customer/37077", &orders)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	for _, o := range orders {
		if o.CustomerID != 37077 {
			t.Errorf("order for wrong customer: %+v", o)
		}
	}
}

func TestNotFoundAndBadInput(t *testing.T) {
	s := testServer(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/data/customer/99999", http.StatusNotFound},
		{"/data/customer/abc", http.StatusBadRequest},
		{"/data/product-category/Toys", http.StatusNotFound},
		{"/data/order-priority/Urgent", http.StatusNotFound},
		{"/data/high-profit-products?threshold=lots", http.StatusBadRequest},
		{"/data/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body struct {
				Detail string `json:"detail"`
			}
			status := get(t, s, tt.path, &body)
			if status != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, status)
			}
			if tt.path != "/data/unknown" && body.Detail == "" {
				t.Error("expected a detail message")
			}
		})
	}
}

func TestCategoryAndPriority_CaseInsensitive(t *testing.T) {
	s := testServer(t)

	var electronics []order
	if status := get(t, s, "/data/product-category/electronic", &electronics); status != http.StatusOK {
		t.Fatalf("category: expected 200, got %d", status)
	}
	if len(electronics) != 4 {
		t.Errorf("expected 4 electronic orders, got %d", len(electronics))
	}

	var critical []order
	if status := get(t, s, "/data/order-priority/CRITICAL", &critical); status != http.StatusOK {
		t.Fatalf("priority: expected 200, got %d", status)
	}
	if len(critical) != 3 {
		t.Errorf("expected 3 critical orders, got %d", len(critical))
	}
}

func TestHighProfitProducts(t *testing.T) {
	s := testServer(t)

	var defaults []order
	get(t, s, "/data/high-profit-products", &defaults)
	if len(defaults) != 4 {
		t.Fatalf("default threshold: expected 4 orders, got %d", len(defaults))
	}
	if defaults[0].Product != "Tyre" {
		t.Errorf("expected highest profit first, got %q", defaults[0].Product)
	}

	var strict []order
	get(t, s, "/data/high-profit-products?threshold=130", &strict)
	if len(strict) != 1 {
		t.Errorf("threshold 130: expected 1 order, got %d", len(strict))
	}

	var none []order
	if status := get(t, s, "/data/high-profit-products?threshold=1000", &none); status != http.StatusOK {
		t.Fatalf("expected 200 for an empty result, got %d", status)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected an empty array, got %v", none)
	}
}

func TestAggregates(t *testing.T) {
	s := testServer(t)

	var sales []categorySales
	get(t, s, "/data/total-sales-by-category", &sales)
	if len(sales) != 4 {
		t.Fatalf("expected 4 categories, got %d", len(sales))
	}
	if sales[0].Category != "Electronic" || sales[0].TotalSales != 553.5 {
		t.Errorf("unexpected top category: %+v", sales[0])
	}

	var profit []genderProfit
	get(t, s, "/data/profit-by-gender", &profit)
	want := []genderProfit{{Gender: "Female", TotalProfit: 492}, {Gender: "Male", TotalProfit: 265.6}}
	if len(profit) != len(want) {
		t.Fatalf("expected %d genders, got %d", len(want), len(profit))
	}
	for i := range want {
		if profit[i] != want[i] {
			t.Errorf("profit[%d]: expected %+v, got %+v", i, want[i], profit[i])
		}
	}

	var shipping shippingSummary
	get(t, s, "/data/shipping-cost-summary", &shipping)
	wantShipping := shippingSummary{Orders: 12, Total: 75.8, Average: 6.32, Min: 1, Max: 13.7}
	if shipping != wantShipping {
		t.Errorf("expected %+v, got %+v", wantShipping, shipping)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := testServer(t)

	get(t, s, "/data/customer/37077", nil)
	get(t, s, "/data/customer/41066", nil)
	get(t, s, "/data/profit-by-gender", nil)
	get(t, s, "/health", nil)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByRoute map[string]int64 `json:"calls_by_route"`
	}
	get(t, s, "/stats", &stats)

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if got := stats.CallsByRoute["GET /data/customer/{customer_id}"]; got != 2 {
		t.Errorf("customer calls: expected 2, got %d", got)
	}
	if got := stats.CallsByRoute["GET /data/profit-by-gender"]; got != 1 {
		t.Errorf("profit-by-gender calls: expected 1, got %d", got)
	}
}

func TestHealth(t *testing.T) {
	var body map[string]string
	if status := get(t, testServer(t), "/health", &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "healthy" || body["service"] != "mock-orders" {
		t.Errorf("unexpected health body: %v", body)
	}
}

// --- helpers ---

func testServer(t *testing.T) *server {
	t.Helper()
	orders, err := loadOrders("")
	if err != nil {
		t.Fatalf("loadOrders: %v", err)
	}
	return newServer(orders)
}

func get(t *testing.T, s *server, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w.Code
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}
