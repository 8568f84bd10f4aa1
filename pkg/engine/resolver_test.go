package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/interceptd/internal/matching"
	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/request"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	reg, err := NewRegistry(opts...)
	require.NoError(t, err)
	return reg
}

func newReq(t *testing.T, method, rawURL, body string) *request.Request {
	t.Helper()
	header := http.Header{}
	if body != "" {
		header.Set("Content-Type", "application/json")
	}
	req, err := request.New(method, rawURL, header, []byte(body))
	require.NoError(t, err)
	return req
}

func resolveStatus(t *testing.T, reg *Registry, req *request.Request) int {
	t.Helper()
	res, err := reg.Resolve(t.Context(), req)
	require.NoError(t, err)
	if res.Unhandled() {
		return 0
	}
	return res.Response.Status
}

func TestResolve_OverflowsToOlderHandlers(t *testing.T) {
	reg := newRegistry(t)
	h0 := reg.MustHandle("GET", "/users").Respond(Response{Status: 200})
	h1 := reg.MustHandle("GET", "/users").Respond(Response{Status: 201}).Times(1)
	h2 := reg.MustHandle("GET", "/users").Respond(Response{Status: 202}).Times(1)

	var got []int
	for range 4 {
		got = append(got, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))
	}

	assert.Equal(t, []int{202, 201, 200, 200}, got)
	assert.Equal(t, 2, h0.Count())
	assert.Equal(t, 1, h1.Count())
	assert.Equal(t, 1, h2.Count())
	assert.Equal(t, StateUnsaturated, h0.State())
	assert.Equal(t, StateSaturated, h1.State())
	assert.Equal(t, StateSaturated, h2.State())
	assert.NoError(t, reg.CheckTimes())
}

func TestResolve_NarrowHandlerRecordsMissAnsweredByBroadHandler(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("POST", "/users").Respond(Response{Status: 200})
	narrow := reg.MustHandle("POST", "/users").
		With(Restriction{Body: map[string]any{"name": "alice"}}).
		Respond(Response{Status: 201}).
		Times(1)

	assert.Equal(t, 200, resolveStatus(t, reg, newReq(t, "POST", "http://localhost/users", `{"name":"bob"}`)))

	err := narrow.CheckTimes()
	var timesErr *TimesCheckError
	require.ErrorAs(t, err, &timesErr)
	assert.Equal(t, "body mismatch", timesErr.Reason)
	assert.Contains(t, timesErr.Diff, `-    "name": "alice"`)
	assert.Contains(t, timesErr.Diff, `+    "name": "bob"`)
}

func TestResolve_AllSaturatedIsUnhandled(t *testing.T) {
	reg := newRegistry(t)
	h := reg.MustHandle("GET", "/users").Respond(Response{Status: 200}).Times(1)

	assert.Equal(t, 200, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))
	res, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users", ""))
	require.NoError(t, err)
	assert.True(t, res.Unhandled())
	assert.Nil(t, res.Handler)
	assert.Equal(t, 1, h.Count())
}

func TestResolve_MethodsAreSeparate(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("POST", "/users").Respond(Response{Status: 201})

	assert.Equal(t, 0, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))
	assert.Equal(t, 201, resolveStatus(t, reg, newReq(t, "post", "http://localhost/users", "")))
}

func TestResolve_PathParams(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("GET", "/users/:id/files/:path*").
		With(Restriction{PathParams: map[string]string{"id": "42"}}).
		Respond(Response{Status: 200})

	res, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users/42/files/a/b.txt", ""))
	require.NoError(t, err)
	require.False(t, res.Unhandled())
	assert.Equal(t, map[string]string{"id": "42", "path": "a/b.txt"}, res.Request.PathParams)

	assert.Equal(t, 0, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users/7/files", "")))
}

func TestResolve_BaseURL(t *testing.T) {
	reg := newRegistry(t, WithBaseURL("http://api.test/v1/"))
	reg.MustHandle("GET", "/users").Respond(Response{Status: 200})
	reg.MustHandle("GET", "/").Respond(Response{Status: 204})

	tests := []struct {
		url  string
		want int
	}{
		{"http://api.test/v1/users", 200},
		{"http://API.test/v1/users?page=2", 200},
		{"http://api.test/v1", 204},
		{"http://api.test/v1users", 0},
		{"http://api.test/v2/users", 0},
		{"https://api.test/v1/users", 0},
		{"http://other.test/v1/users", 0},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveStatus(t, reg, newReq(t, "GET", tt.url, "")))
		})
	}
}

func TestResolve_Restrictions(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("POST", "/users").Respond(Response{Status: 400})
	reg.MustHandle("POST", "/users").
		With(Restriction{Headers: map[string]string{"Content-Type": "application/json"}}).
		With(Restriction{Body: map[string]any{"role": "admin"}}).
		Respond(Response{Status: 201})

	assert.Equal(t, 201, resolveStatus(t, reg, newReq(t, "POST", "http://localhost/users", `{"name":"Ada","role":"admin"}`)))
	assert.Equal(t, 400, resolveStatus(t, reg, newReq(t, "POST", "http://localhost/users", `{"name":"Ada","role":"guest"}`)))
}

func TestResolve_PredicateErrorIsReturned(t *testing.T) {
	reg := newRegistry(t)
	boom := errors.New("boom")
	reg.MustHandle("GET", "/users").Respond(Response{Status: 200})
	reg.MustHandle("GET", "/users").
		WithPredicate(func(context.Context, *request.Request) (bool, error) { return false, boom }).
		Respond(Response{Status: 201})

	_, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users", ""))
	assert.ErrorIs(t, err, boom)
}

func TestResolve_NoActiveResponseIsCountedButUnhandled(t *testing.T) {
	reg := newRegistry(t, WithRequestSaving(true))
	h := reg.MustHandle("GET", "/users")

	res, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users", ""))
	require.NoError(t, err)
	assert.True(t, res.Unhandled())
	assert.Same(t, h, res.Handler)
	assert.Equal(t, 1, h.Count())

	saved, err := h.Requests()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Nil(t, saved[0].Response)
}

func TestResolve_ResponseFactory(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("GET", "/users/:id").RespondWith(func(_ context.Context, req *request.Request) (Response, error) {
		return JSON(200, map[string]string{"id": req.PathParams["id"]}), nil
	})

	res, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users/9", ""))
	require.NoError(t, err)
	require.False(t, res.Unhandled())
	assert.Equal(t, map[string]string{"id": "9"}, res.Response.Body)
}

func TestResolve_FactoryErrorFallsThrough(t *testing.T) {
	rec := logging.NewRecorder()
	reg := newRegistry(t, WithLogger(rec.Logger()))
	h0 := reg.MustHandle("GET", "/users").Respond(Response{Status: 200})
	h1 := reg.MustHandle("GET", "/users").RespondWith(func(context.Context, *request.Request) (Response, error) {
		return Response{}, errors.New("factory broke")
	})

	assert.Equal(t, 200, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))
	assert.Equal(t, 0, h1.Count())
	assert.Equal(t, 1, h0.Count())

	records := rec.Records()
	require.Len(t, records, 1)
	assert.Equal(t, slog.LevelError, records[0].Level)
	assert.Equal(t, "response factory failed", records[0].Message)
	assert.Equal(t, h1.ID(), records[0].Attrs["handler_id"])
}

func TestResolve_LastDeclarationWins(t *testing.T) {
	reg := newRegistry(t)
	h := reg.MustHandle("GET", "/users").
		Respond(Response{Status: 500}).
		Delay(delay.Fixed(time.Hour)).
		Respond(Response{Status: 200}).
		Delay(delay.Fixed(0))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, err := reg.Resolve(ctx, newReq(t, "GET", "http://localhost/users", ""))
	require.NoError(t, err)
	assert.Equal(t, 200, res.Response.Status)
	assert.Equal(t, 1, h.Count())
}

func TestResolve_DelayIsApplied(t *testing.T) {
	reg := newRegistry(t)
	reg.MustHandle("GET", "/slow").Respond(Response{Status: 200}).Delay(delay.Range(100*time.Millisecond, 50*time.Millisecond))

	start := time.Now()
	assert.Equal(t, 200, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/slow", "")))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestResolve_DelayErrorIsReturned(t *testing.T) {
	reg := newRegistry(t)
	boom := errors.New("no delay for you")
	h := reg.MustHandle("GET", "/users").
		Respond(Response{Status: 200}).
		Delay(delay.Func(func(context.Context, *request.Request) (time.Duration, error) { return 0, boom }))

	_, err := reg.Resolve(t.Context(), newReq(t, "GET", "http://localhost/users", ""))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.Count())
}

func TestResolve_CancelledRequestGivesBackItsCall(t *testing.T) {
	reg := newRegistry(t, WithRequestSaving(true))
	h := reg.MustHandle("GET", "/users").Respond(Response{Status: 200}).Delay(delay.Fixed(time.Minute)).Times(1)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err := reg.Resolve(ctx, newReq(t, "GET", "http://localhost/users", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, StateUnsaturated, h.State())

	saved, err := h.Requests()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestResolve_ClearedWhileDelayedIsDiscarded(t *testing.T) {
	reg := newRegistry(t)
	h := reg.MustHandle("GET", "/users").Respond(Response{Status: 200}).Delay(delay.Fixed(time.Minute))

	type outcome struct {
		res *Result
		err error
	}
	req := newReq(t, "GET", "http://localhost/users", "")
	done := make(chan outcome, 1)
	go func() {
		res, err := reg.Resolve(context.Background(), req)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return h.Count() == 1 }, 5*time.Second, time.Millisecond)
	h.Clear()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.True(t, out.res.Unhandled())
		assert.Nil(t, out.res.Handler)
	case <-time.After(5 * time.Second):
		t.Fatal("resolve did not return after the handler was cleared")
	}
	assert.Equal(t, 0, h.Count())
}

func TestRegistry_ClearRetiresHandlers(t *testing.T) {
	reg := newRegistry(t)
	h := reg.MustHandle("GET", "/users").Respond(Response{Status: 200}).Times(3)
	assert.Equal(t, 200, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))

	reg.Clear()

	assert.Equal(t, StateCleared, h.State())
	assert.Equal(t, 0, h.Count())
	assert.Empty(t, reg.Handlers())
	assert.NoError(t, reg.CheckTimes())
	assert.Equal(t, 0, resolveStatus(t, reg, newReq(t, "GET", "http://localhost/users", "")))
}

func TestResolve_ConcurrentRequestsRespectMax(t *testing.T) {
	reg := newRegistry(t)
	fallback := reg.MustHandle("GET", "/users").Respond(Response{Status: 200})
	limited := reg.MustHandle("GET", "/users").Respond(Response{Status: 201}).Times(10)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := request.New("GET", "http://localhost/users", nil, nil)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := reg.Resolve(context.Background(), req); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, limited.Count())
	assert.Equal(t, 40, fallback.Count())
}

func TestRegistry_Handle(t *testing.T) {
	reg := newRegistry(t)

	_, err := reg.Handle("TRACE", "/users")
	assert.Error(t, err)

	_, err = reg.Handle("GET", "/:id/:id")
	var dup *matching.DuplicateParamError
	assert.ErrorAs(t, err, &dup)

	h1 := reg.MustHandle("get", "/a")
	h2 := reg.MustHandle("POST", "/b")
	h3 := reg.MustHandle("GET", "/c")
	assert.Equal(t, "GET", h1.Method())
	assert.Equal(t, []*Handler{h1, h2, h3}, reg.Handlers())
	assert.Less(t, h1.Sequence(), h2.Sequence())
	assert.NotEqual(t, h1.ID(), h3.ID())
}

func TestNewRegistry_InvalidBaseURL(t *testing.T) {
	_, err := NewRegistry(WithBaseURL("/relative"))
	assert.Error(t, err)

	reg := newRegistry(t, WithBaseURL("http://api.test/v1?x=1"))
	assert.Equal(t, "http://api.test/v1", reg.BaseURL())
}
