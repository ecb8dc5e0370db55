package automation

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// EvaluateCondition compares an actual context value against an expected
// operand. Fail-closed: an unknown operator or a type-incompatible
// comparison yields false, never an error.
func EvaluateCondition(actual any, op Operator, expected any) bool {
	switch op {
	case OpEquals:
		return valuesEqual(actual, expected)
	case OpGt:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b
	case OpLt:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b
	case OpContains:
		return contains(actual, expected)
	case OpInList:
		seq, ok := toSequence(expected)
		if !ok {
			return false
		}
		for _, item := range seq {
			if valuesEqual(actual, item) {
				return true
			}
		}
		return false
	}
	return false
}

// Matches reports whether every condition holds against the context.
// Conditions are AND-combined; an empty set is vacuously true.
func Matches(conditions []Condition, ctx Context) bool {
	for _, cond := range conditions {
		if !EvaluateCondition(ctx[cond.Field], cond.Operator, cond.Value) {
			return false
		}
	}
	return true
}

// valuesEqual is type-sensitive equality, except that numeric values
// compare by value across widths: JSON decoding and SQL scanning hand
// back different numeric types for the same stored number.
func valuesEqual(a, b any) bool {
	if af, aok := toNumber(a); aok {
		bf, bok := toNumber(b)
		return bok && af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// contains is a membership test when actual is a sequence, otherwise a
// case-insensitive substring test on the string form of actual. A nil
// actual never contains anything.
func contains(actual, expected any) bool {
	if actual == nil {
		return false
	}
	if seq, ok := toSequence(actual); ok {
		for _, item := range seq {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	}
	haystack := strings.ToLower(stringify(actual))
	needle := strings.ToLower(stringify(expected))
	return strings.Contains(haystack, needle)
}

// toNumber converts strictly numeric types to float64. Unlike toFloat
// it rejects strings, keeping equals type-sensitive.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toFloat coerces numbers and numeric strings to float64 for ordered
// comparisons. Anything else fails the coercion.
func toFloat(v any) (float64, bool) {
	if f, ok := toNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// toSequence normalizes slice values to []any. Conditions decoded from
// JSON arrive as []any; values built in Go code may be typed slices.
func toSequence(v any) ([]any, bool) {
	switch seq := v.(type) {
	case []any:
		return seq, true
	case []string:
		out := make([]any, len(seq))
		for i, s := range seq {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(seq))
		for i, n := range seq {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(seq))
		for i, f := range seq {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
