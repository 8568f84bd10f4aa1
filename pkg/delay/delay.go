// Package delay computes and applies the latency declared on a handler.
package delay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/getmockd/interceptd/pkg/request"
)

// ErrStale is returned by Wait when the handler that scheduled the delay was
// cleared before the delay elapsed. The pending response must be discarded.
var ErrStale = errors.New("delay: handler cleared while request was delayed")

// ComputeFunc computes a delay from the parsed request. It may block and
// should honour ctx.
type ComputeFunc func(ctx context.Context, req *request.Request) (time.Duration, error)

type kind int

const (
	kindNone kind = iota
	kindFixed
	kindRange
	kindFunc
)

// Spec is a delay declaration.
type Spec struct {
	kind kind
	min  time.Duration
	max  time.Duration
	fn   ComputeFunc
}

// Fixed delays every response by d. Non-positive durations mean no delay.
func Fixed(d time.Duration) Spec {
	return Spec{kind: kindFixed, min: d, max: d}
}

// Range delays each response by a duration sampled uniformly from
// [min, max]. When min exceeds max the larger value is used as a fixed delay.
func Range(minDur, maxDur time.Duration) Spec {
	return Spec{kind: kindRange, min: minDur, max: maxDur}
}

// Func delays each response by the duration fn returns.
func Func(fn ComputeFunc) Spec {
	return Spec{kind: kindFunc, fn: fn}
}

// IsZero reports whether the spec declares no delay.
func (s Spec) IsZero() bool {
	return s.kind == kindNone || (s.kind == kindFunc && s.fn == nil)
}

func (s Spec) String() string {
	switch s.kind {
	case kindFixed:
		return s.min.String()
	case kindRange:
		return s.min.String() + "-" + s.max.String()
	case kindFunc:
		return "computed"
	default:
		return "none"
	}
}

// Compute resolves spec to a concrete duration for req. Errors from a
// ComputeFunc are returned wrapped.
func Compute(ctx context.Context, spec Spec, req *request.Request) (time.Duration, error) {
	var d time.Duration
	switch spec.kind {
	case kindFixed:
		d = spec.min
	case kindRange:
		d = sample(spec.min, spec.max)
	case kindFunc:
		if spec.fn == nil {
			return 0, nil
		}
		computed, err := spec.fn(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("computing delay: %w", err)
		}
		d = computed
	}
	return max(d, 0), nil
}

func sample(minDur, maxDur time.Duration) time.Duration {
	if minDur >= maxDur {
		return minDur
	}
	minDur = max(minDur, 0)
	if maxDur <= minDur {
		return minDur
	}
	return minDur + time.Duration(rand.Int64N(int64(maxDur-minDur)+1))
}

// Wait blocks for d. It returns ctx.Err() if ctx is done first and ErrStale
// if stale is closed first. A nil stale channel never fires.
func Wait(ctx context.Context, d time.Duration, stale <-chan struct{}) error {
	if d <= 0 {
		select {
		case <-stale:
			return ErrStale
		default:
			return ctx.Err()
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stale:
		return ErrStale
	case <-timer.C:
		return nil
	}
}
