package engine

import "fmt"

// TimesPolicy bounds how many requests a handler answers. Nil bounds are
// unbounded.
type TimesPolicy struct {
	Min *int `json:"min,omitempty" yaml:"min,omitempty"`
	Max *int `json:"max,omitempty" yaml:"max,omitempty"`
}

// Times returns a policy for exactly min requests, or between min and max.
// A max below min is raised to min.
func Times(minCount int, maxCount ...int) TimesPolicy {
	lo := max(minCount, 0)
	hi := lo
	if len(maxCount) > 0 {
		hi = max(maxCount[0], lo)
	}
	return TimesPolicy{Min: &lo, Max: &hi}
}

// AtLeast returns a policy with only a lower bound.
func AtLeast(n int) TimesPolicy {
	lo := max(n, 0)
	return TimesPolicy{Min: &lo}
}

// IsSet reports whether any bound is declared.
func (p TimesPolicy) IsSet() bool { return p.Min != nil || p.Max != nil }

// Saturated reports whether count has reached the upper bound.
func (p TimesPolicy) Saturated(count int) bool {
	return p.Max != nil && count >= *p.Max
}

// Satisfied reports whether count is within the bounds.
func (p TimesPolicy) Satisfied(count int) bool {
	if p.Min != nil && count < *p.Min {
		return false
	}
	return p.Max == nil || count <= *p.Max
}

// Describe renders the bounds as "exactly N requests", "at least N and at
// most M requests" or "at least N requests".
func (p TimesPolicy) Describe() string {
	lo := 0
	if p.Min != nil {
		lo = *p.Min
	}
	switch {
	case p.Max == nil:
		return "at least " + requests(lo)
	case *p.Max == lo:
		return "exactly " + requests(lo)
	default:
		return fmt.Sprintf("at least %d and at most %s", lo, requests(*p.Max))
	}
}

func requests(n int) string {
	if n == 1 {
		return "1 request"
	}
	return fmt.Sprintf("%d requests", n)
}
