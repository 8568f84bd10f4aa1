package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/engine"
)

// MockBuilder builds a handler declaration using a fluent API.
type MockBuilder struct {
	server *Interceptor
	method string
	path   string

	status      int
	header      http.Header
	body        any
	action      engine.Action
	restriction engine.Restriction
	delay       delay.Spec
	times       int   // 0 means unlimited
	err         error // First error encountered during building
}

// setError records the first error encountered during building.
// Subsequent errors are ignored (first error wins pattern).
func (b *MockBuilder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns any error encountered during building.
func (b *MockBuilder) Err() error {
	return b.err
}

func (b *MockBuilder) response() engine.Response {
	if b.action != "" {
		return engine.Response{Action: b.action}
	}
	return engine.Response{Status: b.status, Header: b.header, Body: b.body}
}

// WithStatus sets the HTTP response status code.
// Default is 200 (OK).
func (b *MockBuilder) WithStatus(status int) *MockBuilder {
	b.status = status
	return b
}

// WithBody sets the response body. Strings and byte slices are sent as-is,
// anything else is encoded as JSON.
func (b *MockBuilder) WithBody(body any) *MockBuilder {
	b.body = body
	return b
}

// WithJSON sets the response body as JSON.
// Content-Type is set to application/json.
func (b *MockBuilder) WithJSON(body any) *MockBuilder {
	data, err := json.Marshal(body)
	if err != nil {
		b.setError(fmt.Errorf("WithJSON: failed to marshal body: %w", err))
		return b
	}
	b.body = json.RawMessage(data)
	return b.WithHeader("Content-Type", "application/json")
}

// WithHeader adds a response header.
func (b *MockBuilder) WithHeader(key, value string) *MockBuilder {
	if b.header == nil {
		b.header = make(http.Header)
	}
	b.header.Set(key, value)
	return b
}

// WithHeaders sets multiple response headers at once.
func (b *MockBuilder) WithHeaders(headers map[string]string) *MockBuilder {
	for k, v := range headers {
		b.WithHeader(k, v)
	}
	return b
}

// WithDelay adds a response delay.
// Accepts duration strings like "100ms", "1s", "500ms".
func (b *MockBuilder) WithDelay(d string) *MockBuilder {
	v, err := time.ParseDuration(d)
	if err != nil {
		b.setError(fmt.Errorf("WithDelay: invalid duration %q: %w", d, err))
		return b
	}
	b.delay = delay.Fixed(v)
	return b
}

// WithDelayMs adds a response delay in milliseconds.
func (b *MockBuilder) WithDelayMs(delayMs int) *MockBuilder {
	b.delay = delay.Fixed(time.Duration(delayMs) * time.Millisecond)
	return b
}

// WithDelayRange delays each response by a random duration in [min, max].
func (b *MockBuilder) WithDelayRange(minDelay, maxDelay time.Duration) *MockBuilder {
	b.delay = delay.Range(minDelay, maxDelay)
	return b
}

// WithBodyContains matches requests whose text body contains substr.
func (b *MockBuilder) WithBodyContains(substr string) *MockBuilder {
	b.restriction.Body = substr
	b.restriction.Exact = false
	return b
}

// WithBodyEquals matches requests with exactly matching body.
func (b *MockBuilder) WithBodyEquals(body string) *MockBuilder {
	b.restriction.Body = body
	b.restriction.Exact = true
	return b
}

// WithJSONBody matches requests whose JSON body contains the given value.
func (b *MockBuilder) WithJSONBody(body any) *MockBuilder {
	b.restriction.Body = body
	return b
}

// WithJSONPath matches requests whose JSON body has value at path.
func (b *MockBuilder) WithJSONPath(path string, value any) *MockBuilder {
	if b.restriction.BodyJSONPath == nil {
		b.restriction.BodyJSONPath = make(map[string]any)
	}
	b.restriction.BodyJSONPath[path] = value
	return b
}

// WithExpression matches requests for which the expression is true.
func (b *MockBuilder) WithExpression(expression string) *MockBuilder {
	b.restriction.Expression = expression
	return b
}

// WithQueryParam matches requests with a specific query parameter.
func (b *MockBuilder) WithQueryParam(key, value string) *MockBuilder {
	if b.restriction.SearchParams == nil {
		b.restriction.SearchParams = make(url.Values)
	}
	b.restriction.SearchParams.Add(key, value)
	return b
}

// WithQueryParams matches requests with multiple query parameters.
func (b *MockBuilder) WithQueryParams(params map[string]string) *MockBuilder {
	for k, v := range params {
		b.WithQueryParam(k, v)
	}
	return b
}

// WithRequestHeader matches requests with a specific header.
func (b *MockBuilder) WithRequestHeader(key, value string) *MockBuilder {
	if b.restriction.Headers == nil {
		b.restriction.Headers = make(map[string]string)
	}
	b.restriction.Headers[key] = value
	return b
}

// WithRequestHeaders matches requests with multiple headers.
func (b *MockBuilder) WithRequestHeaders(headers map[string]string) *MockBuilder {
	for k, v := range headers {
		b.WithRequestHeader(k, v)
	}
	return b
}

// WithPathParam matches requests whose path parameter name equals value.
func (b *MockBuilder) WithPathParam(name, value string) *MockBuilder {
	if b.restriction.PathParams == nil {
		b.restriction.PathParams = make(map[string]string)
	}
	b.restriction.PathParams[name] = value
	return b
}

// Times declares that the handler answers exactly n requests. Further
// requests fall through to older handlers or the unhandled strategy, and
// fewer calls fail the test when it completes.
// Use 0 for unlimited matches (default).
func (b *MockBuilder) Times(n int) *MockBuilder {
	b.times = n
	return b
}

// Once is a convenience method for Times(1).
func (b *MockBuilder) Once() *MockBuilder {
	return b.Times(1)
}

// Twice is a convenience method for Times(2).
func (b *MockBuilder) Twice() *MockBuilder {
	return b.Times(2)
}

// Build declares the handler and returns it. Building errors fail the test.
func (b *MockBuilder) Build() *engine.Handler {
	b.server.t.Helper()

	if b.err != nil {
		b.server.t.Errorf("failed to declare %s %s: %v", b.method, b.path, b.err)
		return nil
	}
	return b.server.declare(b)
}

// Reply is Build without a return value.
// More readable in fluent chains:
//
//	mock.Mock("GET", "/api").WithStatus(200).Reply()
func (b *MockBuilder) Reply() {
	b.server.t.Helper()
	b.Build()
}

// Bypass makes matching requests go to the real network.
func (b *MockBuilder) Bypass() *MockBuilder {
	b.action = engine.ActionBypass
	return b
}

// Reject makes matching requests fail with a network error.
func (b *MockBuilder) Reject() *MockBuilder {
	b.action = engine.ActionReject
	return b
}

// RespondWith is a shorthand for setting status and body together.
func (b *MockBuilder) RespondWith(status int, body any) *MockBuilder {
	return b.WithStatus(status).WithBody(body)
}

// RespondJSON is a shorthand for JSON response with status 200.
func (b *MockBuilder) RespondJSON(body any) *MockBuilder {
	return b.WithStatus(http.StatusOK).WithJSON(body)
}

// RespondNotFound configures a 404 Not Found response.
func (b *MockBuilder) RespondNotFound() *MockBuilder {
	return b.WithStatus(http.StatusNotFound).WithJSON(map[string]string{
		"error": "not_found",
	})
}

// RespondBadRequest configures a 400 Bad Request response.
func (b *MockBuilder) RespondBadRequest(message string) *MockBuilder {
	return b.WithStatus(http.StatusBadRequest).WithJSON(map[string]string{
		"error": message,
	})
}

// RespondServerError configures a 500 Internal Server Error response.
func (b *MockBuilder) RespondServerError(message string) *MockBuilder {
	return b.WithStatus(http.StatusInternalServerError).WithJSON(map[string]string{
		"error": message,
	})
}

// RespondUnauthorized configures a 401 Unauthorized response.
func (b *MockBuilder) RespondUnauthorized() *MockBuilder {
	return b.WithStatus(http.StatusUnauthorized).WithJSON(map[string]string{
		"error": "unauthorized",
	})
}

// RespondCreated configures a 201 Created response.
func (b *MockBuilder) RespondCreated(body any) *MockBuilder {
	return b.WithStatus(http.StatusCreated).WithJSON(body)
}

// RespondNoContent configures a 204 No Content response.
func (b *MockBuilder) RespondNoContent() *MockBuilder {
	return b.WithStatus(http.StatusNoContent)
}
