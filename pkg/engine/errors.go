package engine

import (
	"fmt"
	"strings"
)

// DisabledRequestSavingError is returned when saved requests are read from a
// registry that does not save them.
type DisabledRequestSavingError struct{}

func (DisabledRequestSavingError) Error() string {
	return "intercepted requests are not saved; enable request saving on the interceptor to read them"
}

// ErrDisabledRequestSaving is the DisabledRequestSavingError value.
var ErrDisabledRequestSaving error = DisabledRequestSavingError{}

// TimesCheckError reports a handler whose call count is outside its declared
// bounds.
type TimesCheckError struct {
	HandlerID string
	Method    string
	Pattern   string
	Times     TimesPolicy
	Count     int

	// Reason and Diff describe the closest request that reached the handler
	// but did not satisfy its restrictions, if any.
	Reason string
	Diff   string
}

func (e *TimesCheckError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "expected %s matching %s %s, but got %d",
		e.Times.Describe(), e.Method, e.Pattern, e.Count)
	if e.Reason != "" {
		fmt.Fprintf(&b, "\nclosest unmatched request: %s", e.Reason)
	}
	if e.Diff != "" {
		b.WriteString("\n")
		b.WriteString(e.Diff)
	}
	return b.String()
}
