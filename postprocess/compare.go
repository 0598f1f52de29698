package postprocess

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// number reports v as a float when it is numeric or a numeric string.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	case time.Time:
		return s.Format(time.RFC3339), true
	default:
		return fmt.Sprint(s), true
	}
}

// compare orders a and b numerically when both are numbers, otherwise as
// text. ok is false when either side is absent.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	x, _ := text(a)
	y, _ := text(b)
	return strings.Compare(x, y), true
}

// matches evaluates one filter condition. Records missing the field never match.
func matches(v any, cond Condition, want any) bool {
	if v == nil {
		return false
	}
	switch cond {
	case Equals:
		c, ok := compare(v, want)
		return ok && c == 0
	case Contains:
		s, ok := v.(string)
		needle, nok := text(want)
		return ok && nok && strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	case GreaterThan:
		c, ok := compare(v, want)
		return ok && c > 0
	case LessThan:
		c, ok := compare(v, want)
		return ok && c < 0
	}
	return true
}
