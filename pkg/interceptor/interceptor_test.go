package interceptor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/engine"
	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/remote"
	"github.com/getmockd/interceptd/pkg/request"
	"github.com/getmockd/interceptd/pkg/unhandled"
)

func newLocal(t *testing.T, opts Options) *Interceptor {
	t.Helper()
	opts.Type = TypeLocal
	i, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, i.Start(t.Context()))
	t.Cleanup(func() { _ = i.Stop() })
	return i
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown type", Options{Type: "browser"}},
		{"relative base URL", Options{BaseURL: "/api"}},
		{"remote without base URL", Options{Type: TypeRemote}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestInterceptor_StartStop(t *testing.T) {
	i, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, TypeLocal, i.Type())
	assert.False(t, i.IsRunning())

	_, err = i.Client().Get("http://api.test/users")
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, i.Start(t.Context()))
	require.NoError(t, i.Start(t.Context()))
	assert.True(t, i.IsRunning())

	require.NoError(t, i.Stop())
	require.NoError(t, i.Stop())
	assert.False(t, i.IsRunning())
}

func TestTransport_Respond(t *testing.T) {
	i := newLocal(t, Options{BaseURL: "http://api.test"})
	i.Get("/users/:id").RespondWith(func(ctx context.Context, req *request.Request) (engine.Response, error) {
		return engine.JSON(http.StatusOK, map[string]string{"id": req.PathParams["id"]}), nil
	})

	resp, err := i.Client().Get("http://api.test/users/42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"id":"42"}`, readBody(t, resp))
}

func TestTransport_PostBodyRestriction(t *testing.T) {
	i := newLocal(t, Options{BaseURL: "http://api.test"})
	h := i.Post("/users").
		With(engine.Restriction{Body: map[string]any{"name": "ann"}}).
		Respond(engine.Response{Status: http.StatusCreated}).
		Times(1)

	resp, err := i.Client().Post("http://api.test/users", "application/json", strings.NewReader(`{"name":"ann","age":30}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	readBody(t, resp)

	assert.Equal(t, 1, h.Count())
	assert.NoError(t, i.CheckTimes())
}

func TestTransport_UnhandledBypassesByDefault(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("upstream " + r.URL.Path + " " + string(body)))
	}))
	defer upstream.Close()

	rec := logging.NewRecorder()
	i := newLocal(t, Options{BaseURL: upstream.URL, Logger: rec.Logger()})
	i.Get("/handled").Respond(engine.Response{Body: "mocked"})

	resp, err := i.Client().Post(upstream.URL+"/missing", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "upstream /missing payload", readBody(t, resp))
	assert.Contains(t, rec.Messages(slog.LevelWarn), "request did not match any handler and was bypassed")

	resp, err = i.Client().Get(upstream.URL + "/handled")
	require.NoError(t, err)
	assert.Equal(t, "mocked", readBody(t, resp))
}

func TestTransport_UnhandledReject(t *testing.T) {
	rec := logging.NewRecorder()
	quiet := false
	i := newLocal(t, Options{
		Unhandled: &unhandled.Strategy{Action: unhandled.ActionReject},
		Logger:    rec.Logger(),
	})

	_, err := i.Client().Get("http://api.test/missing")
	assert.ErrorIs(t, err, ErrRequestRejected)
	assert.Contains(t, rec.Messages(slog.LevelError), "request did not match any handler and was rejected")

	rec.Reset()
	i.Policy().SetStrategy(unhandled.Strategy{Action: unhandled.ActionReject, Log: &quiet})
	_, err = i.Client().Get("http://api.test/missing")
	assert.ErrorIs(t, err, ErrRequestRejected)
	assert.Empty(t, rec.Messages(slog.LevelError))
}

func TestTransport_HandlerActions(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("real"))
	}))
	defer upstream.Close()

	i := newLocal(t, Options{BaseURL: upstream.URL})
	i.Get("/bypass").Respond(engine.Bypass())
	i.Get("/reject").Respond(engine.Reject())

	resp, err := i.Client().Get(upstream.URL + "/bypass")
	require.NoError(t, err)
	assert.Equal(t, "real", readBody(t, resp))

	_, err = i.Client().Get(upstream.URL + "/reject")
	assert.ErrorIs(t, err, ErrRequestRejected)
}

func TestTransport_HeadHasNoBody(t *testing.T) {
	i := newLocal(t, Options{})
	i.Head("/ping").Respond(engine.Response{Body: "pong"})

	resp, err := i.Client().Head("http://api.test/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, readBody(t, resp))
}

func TestTransport_CancelDuringDelay(t *testing.T) {
	i := newLocal(t, Options{})
	h := i.Get("/slow").Respond(engine.Response{Body: "late"}).Delay(delay.Fixed(time.Second))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://api.test/slow", nil)
	require.NoError(t, err)

	_, err = i.Client().Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, h.Count())
}

func TestInterceptor_StopClearsHandlers(t *testing.T) {
	i, err := New(Options{Unhandled: &unhandled.Strategy{Action: unhandled.ActionReject}})
	require.NoError(t, err)
	require.NoError(t, i.Start(t.Context()))
	h := i.Get("/users").Respond(engine.Response{Status: http.StatusOK})

	require.NoError(t, i.Stop())
	assert.Equal(t, engine.StateCleared, h.State())

	require.NoError(t, i.Start(t.Context()))
	defer i.Stop()
	_, err = i.Client().Get("http://api.test/users")
	assert.ErrorIs(t, err, ErrRequestRejected)
}

func TestInterceptor_Resolve(t *testing.T) {
	i := newLocal(t, Options{BaseURL: "http://api.test/v1"})
	h := i.Delete("/users/:id").Respond(engine.Response{Status: http.StatusNoContent})

	req, err := request.New("DELETE", "http://api.test/v1/users/7", nil, nil)
	require.NoError(t, err)
	out, err := i.Resolve(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionRespond, out.Decision)
	assert.Same(t, h, out.Handler)
	assert.Equal(t, "7", out.Request.PathParams["id"])
	assert.Equal(t, http.StatusNoContent, out.Response.Status)

	other, err := request.New("DELETE", "http://other.test/v1/users/7", nil, nil)
	require.NoError(t, err)
	out, err = i.Resolve(t.Context(), other)
	require.NoError(t, err)
	assert.Equal(t, DecisionBypass, out.Decision)
	assert.Nil(t, out.Handler)
}

func TestInterceptor_PredicateErrorSurfaces(t *testing.T) {
	i := newLocal(t, Options{})
	boom := errors.New("boom")
	i.Get("/users").WithPredicate(func(ctx context.Context, req *request.Request) (bool, error) {
		return false, boom
	}).Respond(engine.Response{})

	_, err := i.Client().Get("http://api.test/users")
	assert.ErrorIs(t, err, boom)
}

// startRemoteServer runs a remote.Server for remote interceptor tests.
func startRemoteServer(t *testing.T) string {
	t.Helper()
	s := remote.NewServer()
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv.URL
}

func newRemote(t *testing.T, opts Options) *Interceptor {
	t.Helper()
	opts.Type = TypeRemote
	i, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, i.Start(t.Context()))
	t.Cleanup(func() { _ = i.Stop() })
	return i
}

func httpClient() *http.Client {
	return &http.Client{Transport: &http.Transport{}, Timeout: 5 * time.Second}
}

func TestRemote_Respond(t *testing.T) {
	serverURL := startRemoteServer(t)
	i := newRemote(t, Options{BaseURL: serverURL + "/api"})
	i.Post("/users/:id").RespondWith(func(ctx context.Context, req *request.Request) (engine.Response, error) {
		return engine.Response{
			Status: http.StatusCreated,
			Header: http.Header{"X-User": {req.PathParams["id"]}},
			Body:   req.Body().Value(),
		}, nil
	})

	resp, err := httpClient().Post(serverURL+"/api/users/9", "application/json", strings.NewReader(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "9", resp.Header.Get("X-User"))
	assert.JSONEq(t, `{"ok":true}`, readBody(t, resp))
}

func TestRemote_UnhandledRejectsByDefault(t *testing.T) {
	serverURL := startRemoteServer(t)
	rec := logging.NewRecorder()
	newRemote(t, Options{BaseURL: serverURL + "/api", Logger: rec.Logger()})

	_, err := httpClient().Get(serverURL + "/api/missing")
	assert.Error(t, err)
	assert.Contains(t, rec.Messages(slog.LevelError), "request did not match any handler and was rejected")
}

func TestRemote_BypassIsRejected(t *testing.T) {
	serverURL := startRemoteServer(t)
	rec := logging.NewRecorder()
	i := newRemote(t, Options{
		BaseURL:   serverURL + "/api",
		Logger:    rec.Logger(),
		Unhandled: &unhandled.Strategy{Action: unhandled.ActionBypass},
	})
	i.Get("/bypass").Respond(engine.Bypass())

	_, err := httpClient().Get(serverURL + "/api/bypass")
	assert.Error(t, err)
	assert.Contains(t, rec.Messages(slog.LevelError), "handler response cannot be applied")

	_, err = httpClient().Get(serverURL + "/api/missing")
	assert.Error(t, err)
	assert.Contains(t, rec.Messages(slog.LevelError), "unsupported unhandled request strategy")
}

func TestRemote_SharedConnections(t *testing.T) {
	serverURL := startRemoteServer(t)
	conns := remote.NewRegistry()
	defer conns.Close()

	users := newRemote(t, Options{BaseURL: serverURL + "/users", Connections: conns})
	orders := newRemote(t, Options{BaseURL: serverURL + "/orders", Connections: conns})
	users.Get("/").Respond(engine.Response{Body: "users"})
	orders.Get("/").Respond(engine.Response{Body: "orders"})

	assert.Equal(t, 1, conns.Len())

	resp, err := httpClient().Get(serverURL + "/users")
	require.NoError(t, err)
	assert.Equal(t, "users", readBody(t, resp))

	resp, err = httpClient().Get(serverURL + "/orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", readBody(t, resp))

	require.NoError(t, users.Stop())
	assert.Equal(t, 1, conns.Len())
	require.NoError(t, orders.Stop())
	assert.Equal(t, 0, conns.Len())
}

func TestRemote_StartFailsWithoutServer(t *testing.T) {
	i, err := New(Options{Type: TypeRemote, BaseURL: "http://127.0.0.1:1/api"})
	require.NoError(t, err)
	assert.Error(t, i.Start(t.Context()))
	assert.False(t, i.IsRunning())
}
