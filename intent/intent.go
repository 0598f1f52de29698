// Package intent classifies a conversation into the capability that should
// answer it and extracts the customer identifier when one is present.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/llm"
)

// Intent is the classified purpose of a user's message.
type Intent string

const (
	Product Intent = "PRODUCT_QUERY"
	Order   Intent = "ORDER_QUERY"
	General Intent = "GENERAL_QUERY"
)

// ParseIntent accepts the canonical names plus the short forms models
// sometimes emit ("order", "PRODUCT"). ok is false for anything else.
func ParseIntent(s string) (Intent, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRODUCT_QUERY", "PRODUCT":
		return Product, true
	case "ORDER_QUERY", "ORDER":
		return Order, true
	case "GENERAL_QUERY", "GENERAL":
		return General, true
	}
	return "", false
}

// SourceType maps the intent onto the capability that serves it.
func (i Intent) SourceType() conversation.SourceType {
	switch i {
	case Product:
		return conversation.SourceProduct
	case Order:
		return conversation.SourceOrder
	default:
		return conversation.SourceGeneral
	}
}

// Decision is the structured result of classifying one request.
type Decision struct {
	Intent             Intent
	CustomerID         string
	RequiresCustomerID bool
}

// Fallback is the decision used whenever classification cannot be trusted.
func Fallback() Decision {
	return Decision{Intent: General}
}

// ErrMalformed marks model output that does not decode into a Decision.
var ErrMalformed = errors.New("malformed intent decision")

type wireDecision struct {
	Intent             string          `json:"intent"`
	HasCustomerID      bool            `json:"has_customer_id"`
	CustomerID         json.RawMessage `json:"customer_id"`
	RequiresCustomerID bool            `json:"requires_customer_id"`
}

// Decode turns raw model output into a Decision. The customer id is only
// taken when the model also reports has_customer_id, and
// RequiresCustomerID is always recomputed as Order with no id.
func Decode(content string) (Decision, error) {
	var w wireDecision
	if err := llm.DecodeJSON(content, &w); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	in, ok := ParseIntent(w.Intent)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unknown intent %q", ErrMalformed, w.Intent)
	}

	d := Decision{Intent: in}
	if w.HasCustomerID {
		d.CustomerID = customerID(w.CustomerID)
	}
	d.RequiresCustomerID = d.Intent == Order && d.CustomerID == ""
	return d, nil
}

// customerID accepts the id as a JSON string or number. Placeholders such as
// null or "none" read as absent.
func customerID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		switch strings.ToLower(s) {
		case "", "null", "none", "n/a", "unknown", "extracted_id_if_present":
			return ""
		}
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
