package testing

import (
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/getmockd/interceptd/pkg/engine"
)

// RequestLog is a request answered by a handler, for assertions.
type RequestLog struct {
	// Method is the HTTP method (GET, POST, etc.)
	Method string
	// URL is the full request URL
	URL string
	// Path is the request URL path
	Path string
	// Headers are the request headers
	Headers http.Header
	// Body is the raw request body
	Body string
	// Query holds the query parameters
	Query url.Values
	// PathParams were extracted by the handler's path pattern
	PathParams map[string]string
	// MatchedID is the ID of the handler that answered the request
	MatchedID string
	// ReceivedAt is when the handler answered
	ReceivedAt time.Time
}

func newRequestLog(h *engine.Handler, r *engine.InterceptedRequest) RequestLog {
	req := r.Request
	return RequestLog{
		Method:     req.Method,
		URL:        req.URL.String(),
		Path:       req.URL.Path,
		Headers:    req.Header,
		Body:       string(req.RawBody),
		Query:      req.SearchParams,
		PathParams: req.PathParams,
		MatchedID:  h.ID(),
		ReceivedAt: r.ReceivedAt,
	}
}

// AssertJSONBody asserts that the request body matches the expected JSON.
// The expected value can be a string, []byte, or any struct/map that will be JSON encoded.
func (r *RequestLog) AssertJSONBody(t testing.TB, expected any) {
	t.Helper()

	var expectedJSON any
	var actualJSON any

	switch v := expected.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &expectedJSON); err != nil {
			t.Errorf("failed to parse expected JSON: %v", err)
			return
		}
	case []byte:
		if err := json.Unmarshal(v, &expectedJSON); err != nil {
			t.Errorf("failed to parse expected JSON: %v", err)
			return
		}
	default:
		// Marshal and unmarshal to normalize
		data, err := json.Marshal(v)
		if err != nil {
			t.Errorf("failed to marshal expected value: %v", err)
			return
		}
		if err := json.Unmarshal(data, &expectedJSON); err != nil {
			t.Errorf("failed to parse expected JSON: %v", err)
			return
		}
	}

	if err := json.Unmarshal([]byte(r.Body), &actualJSON); err != nil {
		t.Errorf("request body is not valid JSON: %v\nbody: %s", err, r.Body)
		return
	}

	if !reflect.DeepEqual(actualJSON, expectedJSON) {
		expectedBytes, _ := json.MarshalIndent(expectedJSON, "", "  ")
		actualBytes, _ := json.MarshalIndent(actualJSON, "", "  ")
		t.Errorf("request body does not match expected JSON\nexpected:\n%s\nactual:\n%s",
			string(expectedBytes), string(actualBytes))
	}
}

// AssertBody asserts that the request body exactly matches the expected string.
func (r *RequestLog) AssertBody(t testing.TB, expected string) {
	t.Helper()

	if r.Body != expected {
		t.Errorf("request body does not match\nexpected: %q\nactual: %q", expected, r.Body)
	}
}

// AssertBodyContains asserts that the request body contains the expected substring.
func (r *RequestLog) AssertBodyContains(t testing.TB, substr string) {
	t.Helper()

	if !strings.Contains(r.Body, substr) {
		t.Errorf("request body does not contain %q\nbody: %s", substr, r.Body)
	}
}

// AssertHeader asserts that the request had the specified header with the
// expected value. Multi-valued headers are joined with ", ".
func (r *RequestLog) AssertHeader(t testing.TB, key, expected string) {
	t.Helper()

	values := r.Headers.Values(key)
	if len(values) == 0 {
		t.Errorf("request does not have header %q", key)
		return
	}
	if actual := strings.Join(values, ", "); actual != expected {
		t.Errorf("header %q value mismatch\nexpected: %q\nactual: %q", key, expected, actual)
	}
}

// AssertHeaderExists asserts that the request had the specified header (any value).
func (r *RequestLog) AssertHeaderExists(t testing.TB, key string) {
	t.Helper()

	if len(r.Headers.Values(key)) == 0 {
		t.Errorf("request does not have header %q", key)
	}
}

// AssertQueryParam asserts that the first value of the query parameter is
// expected.
func (r *RequestLog) AssertQueryParam(t testing.TB, key, expected string) {
	t.Helper()

	if !r.Query.Has(key) {
		t.Errorf("request does not have query parameter %q", key)
		return
	}
	if actual := r.Query.Get(key); actual != expected {
		t.Errorf("query parameter %q value mismatch\nexpected: %q\nactual: %q", key, expected, actual)
	}
}

// AssertPathParam asserts the value of a path parameter.
func (r *RequestLog) AssertPathParam(t testing.TB, name, expected string) {
	t.Helper()

	actual, ok := r.PathParams[name]
	if !ok {
		t.Errorf("request does not have path parameter %q", name)
		return
	}
	if actual != expected {
		t.Errorf("path parameter %q value mismatch\nexpected: %q\nactual: %q", name, expected, actual)
	}
}

// AssertMethod asserts that the request used the expected HTTP method.
func (r *RequestLog) AssertMethod(t testing.TB, expected string) {
	t.Helper()

	if !strings.EqualFold(r.Method, expected) {
		t.Errorf("request method mismatch\nexpected: %q\nactual: %q", expected, r.Method)
	}
}

// AssertPath asserts that the request path matches.
func (r *RequestLog) AssertPath(t testing.TB, expected string) {
	t.Helper()

	if r.Path != expected {
		t.Errorf("request path mismatch\nexpected: %q\nactual: %q", expected, r.Path)
	}
}

// JSONField extracts a field from the request body JSON.
// Returns nil if the body is not valid JSON or the field doesn't exist.
func (r *RequestLog) JSONField(field string) any {
	var data map[string]any
	if err := json.Unmarshal([]byte(r.Body), &data); err != nil {
		return nil
	}

	// Support nested fields with dot notation
	var current any = data
	for part := range strings.SplitSeq(field, ".") {
		v, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = v[part]
	}
	return current
}

// AssertJSONField asserts that a JSON field in the request body has the expected value.
func (r *RequestLog) AssertJSONField(t testing.TB, field string, expected any) {
	t.Helper()

	actual := r.JSONField(field)
	if actual == nil {
		t.Errorf("JSON field %q not found in request body: %s", field, r.Body)
		return
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("JSON field %q mismatch\nexpected: %v (%T)\nactual: %v (%T)",
			field, expected, expected, actual, actual)
	}
}
