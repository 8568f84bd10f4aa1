package matching

import (
	"fmt"
	"reflect"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/interceptd/pkg/request"
)

// MatchJSONPath evaluates JSONPath conditions against a parsed body.
// All conditions must hold. Bodies that are not JSON never match.
func MatchJSONPath(conditions map[string]any, body request.Body) bool {
	if len(conditions) == 0 {
		return true
	}
	if body.Kind != request.KindJSON {
		return false
	}
	for path, expected := range conditions {
		if matched, _ := matchSingleJSONPath(path, expected, body.JSON); !matched {
			return false
		}
	}
	return true
}

// JSONPathValues returns the first value each path selects from the body,
// for diagnostics. Paths selecting nothing are omitted.
func JSONPathValues(conditions map[string]any, body request.Body) map[string]any {
	out := make(map[string]any, len(conditions))
	if body.Kind != request.KindJSON {
		return out
	}
	for path := range conditions {
		x, err := jp.ParseString(path)
		if err != nil {
			continue
		}
		if results := x.Get(body.JSON); len(results) > 0 {
			out[path] = results[0]
		}
	}
	return out
}

// matchSingleJSONPath evaluates a single JSONPath condition.
// Returns (true, extractedValue) if matched, (false, nil) if not.
func matchSingleJSONPath(path string, expected any, data any) (bool, any) {
	x, err := jp.ParseString(path)
	if err != nil {
		return false, nil
	}

	results := x.Get(data)

	if len(results) == 0 {
		// {exists: false} matches an absent path
		if isExistenceCheck(expected) && !getExistsValue(expected) {
			return true, nil
		}
		return false, nil
	}

	if isExistenceCheck(expected) {
		if getExistsValue(expected) {
			return true, results[0]
		}
		return false, nil
	}

	// Wildcard paths match when any selected value matches.
	for _, result := range results {
		if valuesEqual(result, expected) {
			return true, result
		}
	}

	return false, nil
}

// isExistenceCheck reports whether expected is of the form {"exists": bool}.
func isExistenceCheck(expected any) bool {
	m, ok := expected.(map[string]any)
	if !ok {
		return false
	}
	_, hasExists := m["exists"]
	return hasExists && len(m) == 1
}

func getExistsValue(expected any) bool {
	m, ok := expected.(map[string]any)
	if !ok {
		return false
	}
	b, ok := m["exists"].(bool)
	return ok && b
}

// valuesEqual compares two values for equality, treating all numeric types
// as interchangeable.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}

	actualNum, actualIsNum := toFloat64(actual)
	expectedNum, expectedIsNum := toFloat64(expected)
	if actualIsNum && expectedIsNum {
		return actualNum == expectedNum
	}

	return false
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
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
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	default:
		return 0, false
	}
}

// ValidateJSONPathExpression validates a JSONPath expression at declaration
// time.
func ValidateJSONPathExpression(path string) error {
	if _, err := jp.ParseString(path); err != nil {
		return fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
	}
	return nil
}
