package matching

import (
	"net/http"
	"strings"
)

// HeaderValue returns the request header value for name with multiple values
// joined by ", ". Header names are case-insensitive.
func HeaderValue(headers http.Header, name string) (string, bool) {
	values := headers.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, ", "), true
}

// MatchHeader checks if a specific header matches.
func MatchHeader(name, expectedValue string, headers http.Header) bool {
	actual, ok := HeaderValue(headers, name)
	return ok && actual == expectedValue
}

// MatchHeaders checks the declared headers against the request headers.
// In exact mode the request must carry no other headers.
func MatchHeaders(expected map[string]string, headers http.Header, exact bool) bool {
	for name, value := range expected {
		if !MatchHeader(name, value, headers) {
			return false
		}
	}
	if !exact {
		return true
	}
	declared := make(map[string]bool, len(expected))
	for name := range expected {
		declared[http.CanonicalHeaderKey(name)] = true
	}
	for name := range headers {
		if !declared[http.CanonicalHeaderKey(name)] {
			return false
		}
	}
	return true
}

// MatchPathParams checks the declared path parameters against the ones
// extracted from the request path.
func MatchPathParams(expected, actual map[string]string, exact bool) bool {
	if exact && len(expected) != len(actual) {
		return false
	}
	for name, value := range expected {
		got, ok := actual[name]
		if !ok || got != value {
			return false
		}
	}
	return true
}
