package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/interceptd/internal/matching"
	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/request"
)

// Restriction is a declared constraint on matching requests.
type Restriction = matching.Restriction

// Predicate is a custom restriction over the parsed request.
type Predicate = matching.Predicate

// State is the lifecycle state of a handler.
type State int

const (
	// StateUnsaturated handlers answer matching requests.
	StateUnsaturated State = iota
	// StateSaturated handlers reached their maximum call count and let
	// matching requests overflow to older handlers.
	StateSaturated
	// StateCleared handlers were retired by their interceptor and never
	// match again.
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateSaturated:
		return "saturated"
	case StateCleared:
		return "cleared"
	default:
		return "unsaturated"
	}
}

// maxUnmatched bounds the requests kept per handler to explain CheckTimes
// failures.
const maxUnmatched = 20

// unmatchedRequest is a request the handler saw but did not answer.
type unmatchedRequest struct {
	req         *request.Request
	pathMatched bool
}

// InterceptedRequest is a request answered by a handler.
type InterceptedRequest struct {
	Request *request.Request

	// Response is nil when the handler had no active response.
	Response *Response

	ReceivedAt time.Time
}

// Handler is one declared request expectation. Declaration methods return
// the handler for chaining; the first declaration error is kept and
// reported by Err.
type Handler struct {
	id       string
	method   string
	pattern  *matching.Pattern
	sequence uint64
	saving   bool
	log      *slog.Logger

	mu           sync.Mutex
	restrictions []Restriction
	responses    []declaration
	delays       []delay.Spec
	times        TimesPolicy
	count        int
	requests     []*InterceptedRequest
	unmatched    []unmatchedRequest
	generation   uint64
	stale        chan struct{}
	retired      bool
	err          error
}

func newHandler(method string, pattern *matching.Pattern, sequence uint64, saving bool, log *slog.Logger) *Handler {
	id := uuid.NewString()
	return &Handler{
		id:       id,
		method:   method,
		pattern:  pattern,
		sequence: sequence,
		saving:   saving,
		log:      log.With("handler_id", id, "method", method, "path", pattern.String()),
		stale:    make(chan struct{}),
	}
}

// ID returns the handler's unique identifier.
func (h *Handler) ID() string { return h.id }

// Method returns the HTTP method the handler answers.
func (h *Handler) Method() string { return h.method }

// Pattern returns the path pattern as declared.
func (h *Handler) Pattern() string { return h.pattern.String() }

// Sequence returns the handler's creation order within its registry.
func (h *Handler) Sequence() uint64 { return h.sequence }

func (h *Handler) setError(err error) {
	if h.err == nil {
		h.err = err
	}
}

// Err returns the first error encountered while declaring the handler.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// With adds a restriction. All restrictions must hold for a request to match.
func (h *Handler) With(r Restriction) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := r.Validate(); err != nil {
		h.setError(fmt.Errorf("With: %w", err))
		return h
	}
	h.restrictions = append(h.restrictions, r)
	return h
}

// WithPredicate adds a restriction evaluated by fn.
func (h *Handler) WithPredicate(fn Predicate) *Handler {
	return h.With(Restriction{Predicate: fn})
}

// Respond declares the response. The latest declaration is the active one.
func (h *Handler) Respond(r Response) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, declaration{static: &r})
	return h
}

// RespondWith declares a response computed per request. When fn fails the
// error is logged and the request falls through to older handlers.
func (h *Handler) RespondWith(fn ResponseFactory) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		h.setError(fmt.Errorf("RespondWith: nil factory"))
		return h
	}
	h.responses = append(h.responses, declaration{factory: fn})
	return h
}

// Delay declares the latency applied before responding. The latest
// declaration is the active one.
func (h *Handler) Delay(spec delay.Spec) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delays = append(h.delays, spec)
	return h
}

// Times bounds the number of requests the handler answers. Without max the
// count must be exactly min; a max below min is raised to min.
func (h *Handler) Times(minCount int, maxCount ...int) *Handler {
	return h.SetTimes(Times(minCount, maxCount...))
}

// SetTimes replaces the call-count policy.
func (h *Handler) SetTimes(p TimesPolicy) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.times = p
	return h
}

// Count returns the number of requests the handler answered.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// TimesPolicy returns the declared call-count policy.
func (h *Handler) TimesPolicy() TimesPolicy {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.times
}

// Restrictions returns the declared restrictions in order.
func (h *Handler) Restrictions() []Restriction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.restrictions)
}

// State returns the handler's lifecycle state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state()
}

func (h *Handler) state() State {
	switch {
	case h.retired:
		return StateCleared
	case h.times.Saturated(h.count):
		return StateSaturated
	default:
		return StateUnsaturated
	}
}

// Requests returns the requests the handler answered, oldest first.
func (h *Handler) Requests() ([]*InterceptedRequest, error) {
	if !h.saving {
		return nil, ErrDisabledRequestSaving
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.requests), nil
}

// Clear drops every declaration, the call count and saved requests. The
// handler stays registered and matches again once it is given a response.
// Requests being delayed by the handler are discarded.
func (h *Handler) Clear() *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
	return h
}

// retire clears the handler for good; it is called when the owning registry
// is cleared.
func (h *Handler) retire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
	h.retired = true
}

func (h *Handler) reset() {
	h.restrictions = nil
	h.responses = nil
	h.delays = nil
	h.times = TimesPolicy{}
	h.count = 0
	h.requests = nil
	h.unmatched = nil
	h.err = nil
	h.generation++
	close(h.stale)
	h.stale = make(chan struct{})
}

// CheckTimes returns a *TimesCheckError when the call count is outside the
// declared bounds. When restrictions are declared, the error explains how
// the closest non-matching request differed.
func (h *Handler) CheckTimes() error {
	h.mu.Lock()
	if h.retired || !h.times.IsSet() || h.times.Satisfied(h.count) {
		h.mu.Unlock()
		return nil
	}
	err := &TimesCheckError{
		HandlerID: h.id,
		Method:    h.method,
		Pattern:   h.pattern.String(),
		Times:     h.times,
		Count:     h.count,
	}
	restrictions := slices.Clone(h.restrictions)
	unmatched := slices.Clone(h.unmatched)
	h.mu.Unlock()

	if candidates := closeCandidates(unmatched); len(restrictions) > 0 && len(candidates) > 0 {
		_, nm := matching.Closest(context.Background(), restrictions, candidates)
		err.Reason = nm.Reason
		err.Diff = matching.Diff(nm)
	}
	return err
}

// closeCandidates prefers requests whose path matched the pattern.
func closeCandidates(unmatched []unmatchedRequest) []*request.Request {
	var onPath, all []*request.Request
	for _, u := range unmatched {
		all = append(all, u.req)
		if u.pathMatched {
			onPath = append(onPath, u.req)
		}
	}
	if len(onPath) > 0 {
		return onPath
	}
	return all
}

// match reports whether req is under this handler's pattern and satisfies
// its restrictions. The returned request carries the path parameters.
func (h *Handler) match(ctx context.Context, escapedPath string, req *request.Request) (*request.Request, bool, error) {
	params, ok := h.pattern.Match(escapedPath)
	if !ok {
		return nil, false, nil
	}
	view := req.WithPathParams(params)

	h.mu.Lock()
	retired := h.retired
	restrictions := slices.Clone(h.restrictions)
	h.mu.Unlock()
	if retired {
		return view, false, nil
	}

	ok, err := matching.Evaluate(ctx, restrictions, view)
	if err != nil {
		return view, false, err
	}
	return view, ok, nil
}

// commit is a reserved call on a handler.
type commit struct {
	generation uint64
	stale      <-chan struct{}
	response   *declaration
	delay      delay.Spec
}

// reserve counts a call unless the handler is saturated or retired.
func (h *Handler) reserve() (*commit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state() != StateUnsaturated {
		return nil, false
	}
	h.count++
	c := &commit{generation: h.generation, stale: h.stale}
	if n := len(h.responses); n > 0 {
		d := h.responses[n-1]
		c.response = &d
	}
	if n := len(h.delays); n > 0 {
		c.delay = h.delays[n-1]
	}
	return c, true
}

// rollback returns a reserved call. Calls reserved before the last Clear are
// already gone.
func (h *Handler) rollback(c *commit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation == c.generation && h.count > 0 {
		h.count--
	}
}

// complete saves the answered request. It reports false when the handler
// was cleared after the call was reserved.
func (h *Handler) complete(c *commit, req *request.Request, resp *Response) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != c.generation {
		return false
	}
	if h.saving {
		h.requests = append(h.requests, &InterceptedRequest{Request: req, Response: resp, ReceivedAt: time.Now()})
	}
	return true
}

// recordUnmatched keeps req to explain a later CheckTimes failure.
func (h *Handler) recordUnmatched(req *request.Request, pathMatched bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return
	}
	if len(h.unmatched) == maxUnmatched {
		h.unmatched = slices.Delete(h.unmatched, 0, 1)
	}
	h.unmatched = append(h.unmatched, unmatchedRequest{req: req, pathMatched: pathMatched})
}
