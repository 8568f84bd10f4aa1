package testing

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/getmockd/interceptd/pkg/engine"
	"github.com/getmockd/interceptd/pkg/interceptor"
	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/unhandled"
)

// Interceptor is a test helper around a local interceptor.
// Handler call counts are checked and the interceptor is stopped when the
// test completes.
type Interceptor struct {
	t testing.TB
	i *interceptor.Interceptor
}

type options struct {
	baseURL   string
	unhandled unhandled.Strategy
	logger    *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithBaseURL scopes handler paths to baseURL.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithUnhandled sets the unhandled request strategy. The default rejects
// unhandled requests so that they fail the code under test.
func WithUnhandled(s unhandled.Strategy) Option {
	return func(o *options) { o.unhandled = s }
}

// WithLogger sets the interceptor logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates and starts an interceptor for t. Requests are saved so they
// can be asserted on.
func New(t testing.TB, opts ...Option) *Interceptor {
	t.Helper()

	o := options{
		unhandled: unhandled.Strategy{Action: unhandled.ActionReject},
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	i, err := interceptor.New(interceptor.Options{
		Type:         interceptor.TypeLocal,
		BaseURL:      o.baseURL,
		SaveRequests: true,
		Unhandled:    &o.unhandled,
		Logger:       o.logger,
	})
	if err != nil {
		t.Fatalf("failed to create interceptor: %v", err)
	}
	if err := i.Start(t.Context()); err != nil {
		t.Fatalf("failed to start interceptor: %v", err)
	}

	m := &Interceptor{t: t, i: i}
	t.Cleanup(func() {
		if err := i.CheckTimes(); err != nil {
			t.Errorf("%v", err)
		}
		_ = i.Stop()
	})
	return m
}

// Client returns an http.Client whose requests are intercepted.
func (m *Interceptor) Client() *http.Client {
	return m.i.Client()
}

// Transport returns a RoundTripper intercepting requests made through it.
// Bypassed requests go to base, or http.DefaultTransport when base is nil.
func (m *Interceptor) Transport(base http.RoundTripper) http.RoundTripper {
	return m.i.Transport(base)
}

// Interceptor returns the underlying interceptor for advanced use cases.
func (m *Interceptor) Interceptor() *interceptor.Interceptor {
	return m.i
}

// Mock starts declaring a handler for method and path pattern.
//
// Example:
//
//	mock.Mock("GET", "/users/:id").
//	    WithStatus(200).
//	    WithJSON(map[string]string{"id": "123"}).
//	    Reply()
func (m *Interceptor) Mock(method, path string) *MockBuilder {
	return &MockBuilder{
		server: m,
		method: strings.ToUpper(method),
		path:   path,
		status: http.StatusOK,
	}
}

// Reset retires every handler along with its saved requests.
func (m *Interceptor) Reset() {
	m.i.Clear()
}

// Requests returns the requests answered by any handler, newest first.
func (m *Interceptor) Requests() []RequestLog {
	m.t.Helper()

	var logs []RequestLog
	for _, h := range m.i.Registry().Handlers() {
		saved, err := h.Requests()
		if err != nil {
			m.t.Errorf("failed to read requests of %s %s: %v", h.Method(), h.Pattern(), err)
			return nil
		}
		for _, r := range saved {
			logs = append(logs, newRequestLog(h, r))
		}
	}
	slices.SortStableFunc(logs, func(a, b RequestLog) int {
		return b.ReceivedAt.Compare(a.ReceivedAt)
	})
	return logs
}

// AssertCalled asserts that the handlers declared for method and path
// answered at least one request.
func (m *Interceptor) AssertCalled(t testing.TB, method, path string) {
	t.Helper()

	if count := m.countCalls(method, path); count == 0 {
		t.Errorf("expected %s %s to be called, but it was not called", method, path)
	}
}

// AssertCalledTimes asserts that the handlers declared for method and path
// answered exactly n requests.
func (m *Interceptor) AssertCalledTimes(t testing.TB, method, path string, times int) {
	t.Helper()

	if count := m.countCalls(method, path); count != times {
		t.Errorf("expected %s %s to be called %d times, but was called %d times",
			method, path, times, count)
	}
}

// AssertNotCalled asserts that the handlers declared for method and path
// answered no request.
func (m *Interceptor) AssertNotCalled(t testing.TB, method, path string) {
	t.Helper()

	if count := m.countCalls(method, path); count > 0 {
		t.Errorf("expected %s %s to not be called, but it was called %d times",
			method, path, count)
	}
}

// countCalls sums the counts of the handlers declared for method and path.
func (m *Interceptor) countCalls(method, path string) int {
	count := 0
	for _, h := range m.i.Registry().Handlers() {
		if h.Method() == strings.ToUpper(method) && h.Pattern() == path {
			count += h.Count()
		}
	}
	return count
}

// declare registers a built handler. Declaration errors fail the test.
func (m *Interceptor) declare(b *MockBuilder) *engine.Handler {
	m.t.Helper()

	h, err := m.i.Handle(b.method, b.path)
	if err != nil {
		m.t.Errorf("failed to declare %s %s: %v", b.method, b.path, err)
		return nil
	}
	if !b.restriction.IsZero() {
		h.With(b.restriction)
	}
	h.Respond(b.response())
	if !b.delay.IsZero() {
		h.Delay(b.delay)
	}
	if b.times > 0 {
		h.Times(b.times)
	}
	if err := h.Err(); err != nil {
		m.t.Errorf("failed to declare %s %s: %v", b.method, b.path, err)
	}
	return h
}
