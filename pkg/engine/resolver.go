package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/request"
)

// Result is the outcome of resolving a request.
type Result struct {
	// Handler is the handler that counted the request. It is nil when no
	// handler matched.
	Handler *Handler

	// Response is the response to deliver. It is nil when the request is
	// unhandled, including when the matched handler had no response.
	Response *Response

	// Request carries the path parameters extracted by Handler.
	Request *request.Request
}

// Unhandled reports whether the request must go to the unhandled policy.
func (r *Result) Unhandled() bool { return r.Response == nil }

// Resolve finds the handler that answers req and computes its response,
// waiting out any declared delay.
//
// Predicate and delay errors are returned. Response factory errors are
// logged and the handler is skipped. If ctx is cancelled the handler's call
// is given back and ctx.Err() is returned.
func (r *Registry) Resolve(ctx context.Context, req *request.Request) (*Result, error) {
	candidates := r.candidates(req.Method)
	path, underBase := r.relativePath(req.URL)

	for _, h := range candidates {
		if !underBase {
			h.recordUnmatched(req, false)
			continue
		}
		view, ok, err := h.match(ctx, path, req)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.id, err)
		}
		if !ok {
			// Recorded whether or not an older handler answers.
			if view == nil {
				h.recordUnmatched(req, false)
			} else {
				h.recordUnmatched(view, true)
			}
			continue
		}

		c, ok := h.reserve()
		if !ok {
			continue
		}

		res, done, err := r.answer(ctx, h, c, view)
		if err != nil {
			return nil, err
		}
		if done {
			return res, nil
		}
	}

	return &Result{Request: req}, nil
}

// answer produces the response for a reserved call. done is false when the
// scan must continue with older handlers.
func (r *Registry) answer(ctx context.Context, h *Handler, c *commit, req *request.Request) (res *Result, done bool, err error) {
	if c.response == nil {
		h.complete(c, req, nil)
		return &Result{Handler: h, Request: req}, true, nil
	}

	resp, err := c.response.resolve(ctx, req)
	if err != nil {
		h.rollback(c)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		h.log.Error("response factory failed",
			"url", req.URL.String(),
			"error", err,
		)
		return nil, false, nil
	}

	d, err := delay.Compute(ctx, c.delay, req)
	if err != nil {
		h.rollback(c)
		return nil, false, fmt.Errorf("handler %s: %w", h.id, err)
	}
	if err := delay.Wait(ctx, d, c.stale); err != nil {
		if errors.Is(err, delay.ErrStale) {
			h.log.Debug("handler cleared while response was delayed", "url", req.URL.String())
			return &Result{Request: req}, true, nil
		}
		h.rollback(c)
		return nil, false, err
	}

	if !h.complete(c, req, &resp) {
		return &Result{Request: req}, true, nil
	}
	return &Result{Handler: h, Response: &resp, Request: req}, true, nil
}
