package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/getmockd/interceptd/internal/matching"
	"github.com/getmockd/interceptd/pkg/logging"
)

// Methods are the HTTP methods handlers can be declared for.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// Registry holds the handlers of one interceptor. It is safe for concurrent
// use.
type Registry struct {
	base   *url.URL
	saving bool
	log    *slog.Logger

	mu       sync.RWMutex
	sequence uint64
	handlers map[string][]*Handler
}

// Option configures a Registry.
type Option func(*Registry) error

// WithBaseURL restricts the registry to requests under baseURL. Handler
// patterns are matched against the path below it.
func WithBaseURL(baseURL string) Option {
	return func(r *Registry) error {
		if baseURL == "" {
			r.base = nil
			return nil
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL %q: %w", baseURL, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("invalid base URL %q: must be absolute", baseURL)
		}
		u.RawQuery, u.Fragment = "", ""
		r.base = u
		return nil
	}
}

// WithRequestSaving enables Handler.Requests.
func WithRequestSaving(enabled bool) Option {
	return func(r *Registry) error {
		r.saving = enabled
		return nil
	}
}

// WithLogger sets the logger for response factory failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) error {
		r.log = l
		return nil
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{handlers: make(map[string][]*Handler)}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.log = logging.OrNop(r.log)
	return r, nil
}

// BaseURL returns the base URL, or "" when the registry accepts any URL.
func (r *Registry) BaseURL() string {
	if r.base == nil {
		return ""
	}
	return r.base.String()
}

// SavesRequests reports whether handlers keep the requests they answer.
func (r *Registry) SavesRequests() bool { return r.saving }

// Handle declares a handler for method and path pattern.
func (r *Registry) Handle(method, pattern string) (*Handler, error) {
	method = strings.ToUpper(method)
	if !slices.Contains(Methods, method) {
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	p, err := matching.Compile(pattern)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence++
	h := newHandler(method, p, r.sequence, r.saving, r.log)
	r.handlers[method] = append(r.handlers[method], h)
	return h, nil
}

// MustHandle is like Handle but panics on error.
func (r *Registry) MustHandle(method, pattern string) *Handler {
	h, err := r.Handle(method, pattern)
	if err != nil {
		panic(err)
	}
	return h
}

// Handlers returns every handler in creation order.
func (r *Registry) Handlers() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Handler
	for _, hs := range r.handlers {
		out = append(out, hs...)
	}
	slices.SortFunc(out, func(a, b *Handler) int {
		switch {
		case a.sequence < b.sequence:
			return -1
		case a.sequence > b.sequence:
			return 1
		}
		return 0
	})
	return out
}

// candidates returns the handlers for method, newest first.
func (r *Registry) candidates(method string) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Clone(r.handlers[method])
	slices.Reverse(out)
	return out
}

// Clear retires every handler. Retired handlers never match again and
// requests they are delaying are discarded.
func (r *Registry) Clear() {
	r.mu.Lock()
	handlers := r.handlers
	r.handlers = make(map[string][]*Handler)
	r.mu.Unlock()

	for _, hs := range handlers {
		for _, h := range hs {
			h.retire()
		}
	}
}

// CheckTimes checks every handler and joins the failures.
func (r *Registry) CheckTimes() error {
	var errs []error
	for _, h := range r.Handlers() {
		if err := h.CheckTimes(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Err joins the declaration errors of every handler.
func (r *Registry) Err() error {
	var errs []error
	for _, h := range r.Handlers() {
		if err := h.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", h.Method(), h.Pattern(), err))
		}
	}
	return errors.Join(errs...)
}

// relativePath returns the escaped path of u below the base URL.
func (r *Registry) relativePath(u *url.URL) (string, bool) {
	path := u.EscapedPath()
	if r.base == nil {
		return path, true
	}
	if !strings.EqualFold(u.Scheme, r.base.Scheme) || !strings.EqualFold(u.Host, r.base.Host) {
		return "", false
	}
	prefix := strings.TrimRight(r.base.EscapedPath(), "/")
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}
