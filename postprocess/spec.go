// Package postprocess applies declarative filter, sort and limit
// instructions to the raw records returned by a data source.
package postprocess

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Record is one row from a data source. Values are JSON scalars.
type Record map[string]any

// RecordSet is an ordered sequence of records.
type RecordSet []Record

// Condition is a filter operator.
type Condition string

const (
	Equals      Condition = "equals"
	Contains    Condition = "contains"
	GreaterThan Condition = "greater_than"
	LessThan    Condition = "less_than"
)

// Valid reports whether c is a supported operator.
func (c Condition) Valid() bool {
	switch c {
	case Equals, Contains, GreaterThan, LessThan:
		return true
	}
	return false
}

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Filter keeps records whose Field satisfies Condition against Value.
type Filter struct {
	Field     string
	Condition Condition
	Value     any
}

// Spec holds the instructions for one request. The zero Spec is empty.
type Spec struct {
	Filter    *Filter
	SortBy    string
	SortOrder Order // empty means Desc
	Limit     int   // 0 means no limit
}

// IsEmpty reports whether the spec carries no instruction at all.
func (s Spec) IsEmpty() bool {
	return s.Filter == nil && s.SortBy == "" && s.Limit <= 0
}

func (s Spec) order() Order {
	if s.SortOrder == Asc {
		return Asc
	}
	return Desc
}

type wireSpec struct {
	FilterBy  []any  `json:"filter_by"`
	SortBy    string `json:"sort_by"`
	SortOrder string `json:"sort_order"`
	Limit     any    `json:"limit"`
}

// ParseSpec decodes the post_processing block of an analysis plan. Parts that
// cannot be honoured are dropped: a filter_by that is not a
// [field, condition, value] triple, and a limit that is not a positive
// integer. null or an empty document yields the empty Spec.
func ParseSpec(raw json.RawMessage) (Spec, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Spec{}, nil
	}

	var w wireSpec
	if err := json.Unmarshal(raw, &w); err != nil {
		return Spec{}, fmt.Errorf("decode post_processing: %w", err)
	}

	var s Spec
	if len(w.FilterBy) == 3 {
		field, fok := w.FilterBy[0].(string)
		cond, cok := w.FilterBy[1].(string)
		if fok && cok && field != "" {
			s.Filter = &Filter{
				Field:     field,
				Condition: Condition(strings.ToLower(strings.TrimSpace(cond))),
				Value:     w.FilterBy[2],
			}
		}
	}

	s.SortBy = strings.TrimSpace(w.SortBy)
	if strings.EqualFold(strings.TrimSpace(w.SortOrder), string(Asc)) {
		s.SortOrder = Asc
	} else {
		s.SortOrder = Desc
	}

	if n, ok := positiveInt(w.Limit); ok {
		s.Limit = n
	}
	return s, nil
}

func positiveInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
