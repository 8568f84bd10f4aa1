package unhandled

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/request"
)

// Action is what happens to an unhandled request.
type Action string

const (
	// ActionBypass forwards the request to its real destination.
	ActionBypass Action = "bypass"
	// ActionReject fails the request with a network error.
	ActionReject Action = "reject"
)

// Mode is the interceptor mode a policy serves.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Strategy is an unhandled request strategy. Zero fields take the mode default.
type Strategy struct {
	Action Action `json:"action,omitempty" yaml:"action,omitempty"`
	Log    *bool  `json:"log,omitempty" yaml:"log,omitempty"`
}

// ShouldLog reports whether the strategy logs the request.
func (s Strategy) ShouldLog() bool {
	return s.Log == nil || *s.Log
}

// Factory computes a strategy for a request. It may block.
type Factory func(ctx context.Context, req *request.Request) (Strategy, error)

// UnsupportedResponseBypassError is reported when a remote interceptor is
// asked to bypass a request. The request is rejected instead.
type UnsupportedResponseBypassError struct {
	Method string
	URL    string
}

func (e *UnsupportedResponseBypassError) Error() string {
	return fmt.Sprintf("remote interceptors cannot bypass requests (%s %s); the request was rejected instead", e.Method, e.URL)
}

// DefaultStrategy returns the default strategy for mode.
func DefaultStrategy(mode Mode) Strategy {
	logged := true
	if mode == ModeRemote {
		return Strategy{Action: ActionReject, Log: &logged}
	}
	return Strategy{Action: ActionBypass, Log: &logged}
}

// Policy resolves strategies for one interceptor. It is safe for concurrent use.
type Policy struct {
	mode Mode
	log  *slog.Logger

	mu      sync.RWMutex
	static  *Strategy
	factory Factory
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger unhandled requests are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.log = l }
}

// WithStrategy sets a static strategy.
func WithStrategy(s Strategy) Option {
	return func(p *Policy) { p.static = &s }
}

// WithFactory sets a strategy factory.
func WithFactory(f Factory) Option {
	return func(p *Policy) { p.factory = f }
}

// NewPolicy creates a policy for mode.
func NewPolicy(mode Mode, opts ...Option) *Policy {
	p := &Policy{mode: mode}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrNop(p.log)
	return p
}

// Mode returns the interceptor mode.
func (p *Policy) Mode() Mode { return p.mode }

// SetStrategy replaces the static strategy and clears any factory.
func (p *Policy) SetStrategy(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.static = &s
	p.factory = nil
}

// SetFactory replaces the factory. A nil factory falls back to the static
// strategy.
func (p *Policy) SetFactory(f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = f
}

// Reset restores the mode default.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.static = nil
	p.factory = nil
}

// Resolve returns the strategy to apply to req and logs the request when
// the strategy asks for it.
func (p *Policy) Resolve(ctx context.Context, req *request.Request) Strategy {
	p.mu.RLock()
	static, factory := p.static, p.factory
	p.mu.RUnlock()

	def := DefaultStrategy(p.mode)
	strategy := def
	switch {
	case factory != nil:
		s, err := factory(ctx, req)
		if err != nil {
			p.log.Error("unhandled request strategy factory failed",
				"method", req.Method,
				"url", req.URL.String(),
				"error", err,
			)
			break
		}
		strategy = merge(s, def)
	case static != nil:
		strategy = merge(*static, def)
	}

	if p.mode == ModeRemote && strategy.Action == ActionBypass {
		err := &UnsupportedResponseBypassError{Method: req.Method, URL: req.URL.String()}
		p.log.Error("unsupported unhandled request strategy", "error", err)
		strategy.Action = ActionReject
	}

	if strategy.ShouldLog() {
		p.logRequest(req, strategy.Action)
	}
	return strategy
}

func merge(s, def Strategy) Strategy {
	if s.Action == "" {
		s.Action = def.Action
	}
	if s.Log == nil {
		s.Log = def.Log
	}
	return s
}

// BodySummaryLimit bounds the body text included in log lines.
const BodySummaryLimit = 1024

func (p *Policy) logRequest(req *request.Request, action Action) {
	attrs := []any{
		"method", req.Method,
		"url", req.URL.String(),
		"headers", flattenHeaders(req),
		"searchParams", req.SearchParams,
		"body", req.BodySummary(BodySummaryLimit),
	}
	if action == ActionReject {
		p.log.Error("request did not match any handler and was rejected", attrs...)
		return
	}
	p.log.Warn("request did not match any handler and was bypassed", attrs...)
}

func flattenHeaders(req *request.Request) map[string]string {
	out := make(map[string]string, len(req.Header))
	for name := range req.Header {
		out[name] = strings.Join(req.Header.Values(name), ", ")
	}
	return out
}
