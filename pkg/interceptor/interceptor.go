package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/getmockd/interceptd/pkg/engine"
	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/remote"
	"github.com/getmockd/interceptd/pkg/request"
	"github.com/getmockd/interceptd/pkg/unhandled"
)

// Type selects where intercepted requests come from.
type Type string

const (
	// TypeLocal interceptors resolve requests made in-process, through
	// Transport.
	TypeLocal Type = "local"
	// TypeRemote interceptors resolve requests received by a remote.Server.
	TypeRemote Type = "remote"
)

var (
	// ErrNotRunning is returned when resolving on a stopped interceptor.
	ErrNotRunning = errors.New("interceptor is not running")

	// ErrRequestRejected is returned by Transport for rejected requests.
	ErrRequestRejected = errors.New("request rejected by interceptor")
)

// Options configures an Interceptor.
type Options struct {
	// Type defaults to TypeLocal.
	Type Type

	// BaseURL scopes the interceptor to requests under it. Required for
	// remote interceptors.
	BaseURL string

	// SaveRequests keeps the requests answered by each handler.
	SaveRequests bool

	// Unhandled is the static strategy for unhandled requests. Missing
	// fields take the mode default.
	Unhandled *unhandled.Strategy

	// UnhandledFactory computes the strategy per request and takes
	// precedence over Unhandled.
	UnhandledFactory unhandled.Factory

	Logger *slog.Logger

	// ServerURL is the remote server to connect to. It defaults to the
	// scheme and host of BaseURL.
	ServerURL string

	// Connections shares server connections between remote interceptors.
	// When nil the interceptor keeps its own connection.
	Connections *remote.Registry
}

// Interceptor owns a handler registry and an unhandled request policy.
type Interceptor struct {
	typ       Type
	serverURL string
	log       *slog.Logger
	registry  *engine.Registry
	policy    *unhandled.Policy
	conns     *remote.Registry
	ownConns  bool

	mu      sync.Mutex
	running bool
	release func()
}

// New creates a stopped interceptor.
func New(opts Options) (*Interceptor, error) {
	typ := opts.Type
	if typ == "" {
		typ = TypeLocal
	}
	if typ != TypeLocal && typ != TypeRemote {
		return nil, fmt.Errorf("unknown interceptor type %q", typ)
	}

	log := logging.OrNop(opts.Logger).With("interceptor", string(typ))

	registry, err := engine.NewRegistry(
		engine.WithBaseURL(opts.BaseURL),
		engine.WithRequestSaving(opts.SaveRequests),
		engine.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	i := &Interceptor{
		typ:      typ,
		log:      log,
		registry: registry,
	}

	mode := unhandled.ModeLocal
	if typ == TypeRemote {
		mode = unhandled.ModeRemote
		if opts.BaseURL == "" {
			return nil, errors.New("remote interceptors require a base URL")
		}
		i.serverURL = opts.ServerURL
		if i.serverURL == "" {
			u, _ := url.Parse(registry.BaseURL())
			i.serverURL = u.Scheme + "://" + u.Host
		}
		i.conns = opts.Connections
		if i.conns == nil {
			i.conns = remote.NewRegistry(remote.WithDialLogger(log))
			i.ownConns = true
		}
	}

	policyOpts := []unhandled.Option{unhandled.WithLogger(log)}
	if opts.Unhandled != nil {
		policyOpts = append(policyOpts, unhandled.WithStrategy(*opts.Unhandled))
	}
	if opts.UnhandledFactory != nil {
		policyOpts = append(policyOpts, unhandled.WithFactory(opts.UnhandledFactory))
	}
	i.policy = unhandled.NewPolicy(mode, policyOpts...)

	return i, nil
}

// Type returns the interceptor type.
func (i *Interceptor) Type() Type { return i.typ }

// BaseURL returns the base URL, or "" when the interceptor accepts any URL.
func (i *Interceptor) BaseURL() string { return i.registry.BaseURL() }

// Registry returns the interceptor's handler registry.
func (i *Interceptor) Registry() *engine.Registry { return i.registry }

// Policy returns the interceptor's unhandled request policy.
func (i *Interceptor) Policy() *unhandled.Policy { return i.policy }

// Start begins intercepting. Remote interceptors connect to their server
// and register their base path. Starting a running interceptor is a no-op.
func (i *Interceptor) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.running {
		return nil
	}

	if i.typ == TypeRemote {
		conn, release, err := i.conns.Acquire(ctx, i.serverURL)
		if err != nil {
			return fmt.Errorf("start remote interceptor: %w", err)
		}
		base, _ := url.Parse(i.registry.BaseURL())
		unregister, err := conn.Register(ctx, base.Path, i.serveRemote)
		if err != nil {
			release()
			return fmt.Errorf("start remote interceptor: %w", err)
		}
		i.release = func() {
			unregister()
			release()
		}
	}

	i.running = true
	i.log.Info("interceptor started", "base_url", i.registry.BaseURL())
	return nil
}

// Stop ends interception and clears every handler.
func (i *Interceptor) Stop() error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	release := i.release
	i.release = nil
	i.mu.Unlock()

	i.registry.Clear()
	if release != nil {
		release()
	}
	if i.ownConns {
		i.conns.Close()
	}
	i.log.Info("interceptor stopped")
	return nil
}

// IsRunning reports whether the interceptor is started.
func (i *Interceptor) IsRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Handle declares a handler for method and path pattern.
func (i *Interceptor) Handle(method, pattern string) (*engine.Handler, error) {
	return i.registry.Handle(method, pattern)
}

// Get declares a GET handler. It panics if pattern does not compile.
func (i *Interceptor) Get(pattern string) *engine.Handler {
	return i.registry.MustHandle("GET", pattern)
}

// Post declares a POST handler. It panics if pattern does not compile.
func (i *Interceptor) Post(pattern string) *engine.Handler {
	return i.registry.MustHandle("POST", pattern)
}

// Put declares a PUT handler. It panics if pattern does not compile.
func (i *Interceptor) Put(pattern string) *engine.Handler {
	return i.registry.MustHandle("PUT", pattern)
}

// Patch declares a PATCH handler. It panics if pattern does not compile.
func (i *Interceptor) Patch(pattern string) *engine.Handler {
	return i.registry.MustHandle("PATCH", pattern)
}

// Delete declares a DELETE handler. It panics if pattern does not compile.
func (i *Interceptor) Delete(pattern string) *engine.Handler {
	return i.registry.MustHandle("DELETE", pattern)
}

// Head declares a HEAD handler. It panics if pattern does not compile.
func (i *Interceptor) Head(pattern string) *engine.Handler {
	return i.registry.MustHandle("HEAD", pattern)
}

// Options declares an OPTIONS handler. It panics if pattern does not compile.
func (i *Interceptor) Options(pattern string) *engine.Handler {
	return i.registry.MustHandle("OPTIONS", pattern)
}

// Clear retires every handler. Requests being delayed by them are
// discarded.
func (i *Interceptor) Clear() {
	i.registry.Clear()
}

// CheckTimes reports every handler whose call count is out of bounds.
func (i *Interceptor) CheckTimes() error {
	return i.registry.CheckTimes()
}

// Decision is what an interceptor does with a request.
type Decision string

const (
	DecisionRespond Decision = "respond"
	DecisionBypass  Decision = "bypass"
	DecisionReject  Decision = "reject"
)

// Outcome is the resolution of one request.
type Outcome struct {
	Decision Decision

	// Response is set when Decision is DecisionRespond.
	Response *engine.Response

	// Handler is the handler that counted the request, if any.
	Handler *engine.Handler

	// Request carries the path parameters extracted by Handler.
	Request *request.Request
}

// Resolve decides the fate of req. Unhandled requests go through the
// unhandled policy; remote interceptors never bypass.
func (i *Interceptor) Resolve(ctx context.Context, req *request.Request) (*Outcome, error) {
	if !i.IsRunning() {
		return nil, ErrNotRunning
	}

	res, err := i.registry.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Handler: res.Handler, Request: res.Request}

	if res.Unhandled() {
		strategy := i.policy.Resolve(ctx, req)
		if strategy.Action == unhandled.ActionBypass {
			out.Decision = DecisionBypass
		} else {
			out.Decision = DecisionReject
		}
		return out, nil
	}

	switch res.Response.Action {
	case engine.ActionBypass:
		if i.typ == TypeRemote {
			i.log.Error("handler response cannot be applied",
				"handler_id", res.Handler.ID(),
				"error", &unhandled.UnsupportedResponseBypassError{Method: req.Method, URL: req.URL.String()},
			)
			out.Decision = DecisionReject
			return out, nil
		}
		out.Decision = DecisionBypass
	case engine.ActionReject:
		out.Decision = DecisionReject
	default:
		out.Decision = DecisionRespond
		out.Response = res.Response
	}
	return out, nil
}

// serveRemote answers a request shipped by the remote server.
func (i *Interceptor) serveRemote(ctx context.Context, req *request.Request) (*remote.Reply, error) {
	out, err := i.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Decision != DecisionRespond {
		return &remote.Reply{Reject: true}, nil
	}
	status, header, body, err := out.Response.Render()
	if err != nil {
		return nil, err
	}
	return &remote.Reply{Status: status, Header: header, Body: body}, nil
}
