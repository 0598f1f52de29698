package orderlookup

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/c360studio/storechat/llm"
	"github.com/c360studio/storechat/postprocess"
)

// Plan is the analysis step's decision: which data endpoint to call and how
// to shape what comes back.
type Plan struct {
	Endpoint       string
	Parameters     map[string]any
	PostProcessing postprocess.Spec
	QueryType      string
}

// ErrMalformedPlan marks analysis output that does not decode into a Plan.
var ErrMalformedPlan = errors.New("malformed analysis plan")

type wirePlan struct {
	Endpoint       string          `json:"endpoint"`
	Parameters     map[string]any  `json:"parameters"`
	PostProcessing json.RawMessage `json:"post_processing"`
	QueryType      string          `json:"query_type"`
}

// DecodePlan reads model output into a Plan. A post_processing block that
// cannot be decoded is dropped rather than failing the plan; the rows are
// then returned as the data source ordered them.
func DecodePlan(content string) (Plan, error) {
	var w wirePlan
	if err := llm.DecodeJSON(content, &w); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	if strings.TrimSpace(w.Endpoint) == "" {
		return Plan{}, fmt.Errorf("%w: endpoint is empty", ErrMalformedPlan)
	}

	p := Plan{
		Endpoint:   strings.TrimSpace(w.Endpoint),
		Parameters: w.Parameters,
		QueryType:  strings.ToLower(strings.TrimSpace(w.QueryType)),
	}
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}
	if spec, err := postprocess.ParseSpec(w.PostProcessing); err == nil {
		p.PostProcessing = spec
	}
	return p, nil
}

// Data API endpoints the analysis step may choose from.
const (
	EndpointCustomer        = "/data/customer/{customer_id}"
	EndpointProductCategory = "/data/product-category/{category}"
	EndpointOrderPriority   = "/data/order-priority/{priority}"
	EndpointSalesByCategory = "/data/total-sales-by-category"
	EndpointHighProfit      = "/data/high-profit-products"
	EndpointShippingSummary = "/data/shipping-cost-summary"
	EndpointProfitByGender  = "/data/profit-by-gender"
)

// ErrUnknownEndpoint is returned for endpoints outside the data API.
var ErrUnknownEndpoint = errors.New("unknown data endpoint")

// ErrMissingParameter is returned when a templated endpoint lacks its value.
var ErrMissingParameter = errors.New("missing endpoint parameter")

type template struct {
	prefix string
	param  string
}

var templated = []template{
	{prefix: "/data/customer/", param: "customer_id"},
	{prefix: "/data/product-category/", param: "category"},
	{prefix: "/data/order-priority/", param: "priority"},
}

var fixed = map[string]bool{
	EndpointSalesByCategory: true,
	EndpointHighProfit:      true,
	EndpointShippingSummary: true,
	EndpointProfitByGender:  true,
}

// Resolve turns a plan's endpoint and parameters into a request path and
// query. Templated endpoints take their path value from the parameters, not
// from whatever the model wrote after the prefix. Anything that is not one
// of the known endpoints is refused.
func Resolve(endpoint string, params map[string]any) (string, url.Values, error) {
	path := strings.TrimSpace(endpoint)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for _, t := range templated {
		if !strings.HasPrefix(path, t.prefix) {
			continue
		}
		value := paramString(params[t.param])
		if value == "" {
			return "", nil, fmt.Errorf("%w: %s needs %q", ErrMissingParameter, t.prefix, t.param)
		}
		return t.prefix + url.PathEscape(value), nil, nil
	}

	path = strings.TrimSuffix(path, "/")
	if !fixed[path] {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpoint)
	}

	var query url.Values
	if path == EndpointHighProfit {
		if v := paramString(params["threshold"]); v != "" {
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				query = url.Values{"threshold": {v}}
			}
		}
	}
	return path, query, nil
}

// paramString renders a parameter value as path text. JSON numbers arrive as
// float64; integral ones print without a decimal point.
func paramString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
