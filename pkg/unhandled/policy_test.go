package unhandled

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/request"
)

func newRequest(t *testing.T) *request.Request {
	t.Helper()
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Trace", "abc")
	req, err := request.New(http.MethodPost, "http://api.test/users?page=2", header, []byte(`{"name":"Ada"}`))
	require.NoError(t, err)
	return req
}

func boolPtr(b bool) *bool { return &b }

func TestPolicy_Defaults(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		wantAction Action
		wantLevel  slog.Level
	}{
		{"local bypasses and warns", ModeLocal, ActionBypass, slog.LevelWarn},
		{"remote rejects and errors", ModeRemote, ActionReject, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := logging.NewRecorder()
			p := NewPolicy(tt.mode, WithLogger(rec.Logger()))

			s := p.Resolve(t.Context(), newRequest(t))
			assert.Equal(t, tt.wantAction, s.Action)
			assert.True(t, s.ShouldLog())

			records := rec.Records()
			require.Len(t, records, 1)
			assert.Equal(t, tt.wantLevel, records[0].Level)
			assert.Equal(t, "POST", records[0].Attrs["method"])
			assert.Equal(t, "http://api.test/users?page=2", records[0].Attrs["url"])
			assert.Equal(t, map[string]string{"Content-Type": "application/json", "X-Trace": "abc"}, records[0].Attrs["headers"])
			assert.Equal(t, url.Values{"page": {"2"}}, records[0].Attrs["searchParams"])
			assert.Equal(t, `{"name":"Ada"}`, records[0].Attrs["body"])
		})
	}
}

func TestPolicy_StaticStrategy(t *testing.T) {
	rec := logging.NewRecorder()
	p := NewPolicy(ModeLocal, WithLogger(rec.Logger()), WithStrategy(Strategy{Action: ActionReject, Log: boolPtr(false)}))

	s := p.Resolve(t.Context(), newRequest(t))
	assert.Equal(t, ActionReject, s.Action)
	assert.Empty(t, rec.Records())
}

func TestPolicy_PartialStrategyUsesDefaults(t *testing.T) {
	rec := logging.NewRecorder()
	p := NewPolicy(ModeLocal, WithLogger(rec.Logger()), WithStrategy(Strategy{Log: boolPtr(false)}))

	s := p.Resolve(t.Context(), newRequest(t))
	assert.Equal(t, ActionBypass, s.Action)
	assert.Empty(t, rec.Records())
}

func TestPolicy_FactoryTakesPrecedence(t *testing.T) {
	rec := logging.NewRecorder()
	p := NewPolicy(ModeLocal,
		WithLogger(rec.Logger()),
		WithStrategy(Strategy{Action: ActionBypass}),
		WithFactory(func(_ context.Context, req *request.Request) (Strategy, error) {
			if req.URL.Host == "api.test" {
				return Strategy{Action: ActionReject}, nil
			}
			return Strategy{Action: ActionBypass}, nil
		}),
	)

	s := p.Resolve(t.Context(), newRequest(t))
	assert.Equal(t, ActionReject, s.Action)
	assert.Equal(t, []string{"request did not match any handler and was rejected"}, rec.Messages(slog.LevelError))
}

func TestPolicy_FactoryErrorFallsBackToDefault(t *testing.T) {
	rec := logging.NewRecorder()
	p := NewPolicy(ModeRemote,
		WithLogger(rec.Logger()),
		WithStrategy(Strategy{Action: ActionReject, Log: boolPtr(false)}),
		WithFactory(func(context.Context, *request.Request) (Strategy, error) {
			return Strategy{}, errors.New("boom")
		}),
	)

	s := p.Resolve(t.Context(), newRequest(t))
	assert.Equal(t, ActionReject, s.Action)
	assert.True(t, s.ShouldLog())

	records := rec.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "unhandled request strategy factory failed", records[0].Message)
	assert.EqualError(t, records[0].Attrs["error"].(error), "boom")
	assert.Equal(t, "request did not match any handler and was rejected", records[1].Message)
}

func TestPolicy_RemoteBypassIsRejected(t *testing.T) {
	rec := logging.NewRecorder()
	p := NewPolicy(ModeRemote, WithLogger(rec.Logger()), WithStrategy(Strategy{Action: ActionBypass}))

	s := p.Resolve(t.Context(), newRequest(t))
	assert.Equal(t, ActionReject, s.Action)

	records := rec.Records()
	require.Len(t, records, 2)
	var bypassErr *UnsupportedResponseBypassError
	require.ErrorAs(t, records[0].Attrs["error"].(error), &bypassErr)
	assert.Equal(t, "POST", bypassErr.Method)
	assert.Equal(t, slog.LevelError, records[1].Level)
}

func TestPolicy_SetAndReset(t *testing.T) {
	p := NewPolicy(ModeLocal, WithStrategy(Strategy{Action: ActionReject, Log: boolPtr(false)}))
	req := newRequest(t)

	p.SetFactory(func(context.Context, *request.Request) (Strategy, error) {
		return Strategy{Action: ActionBypass, Log: boolPtr(false)}, nil
	})
	assert.Equal(t, ActionBypass, p.Resolve(t.Context(), req).Action)

	p.SetStrategy(Strategy{Action: ActionReject, Log: boolPtr(false)})
	assert.Equal(t, ActionReject, p.Resolve(t.Context(), req).Action)

	p.Reset()
	assert.Equal(t, DefaultStrategy(ModeLocal), p.Resolve(t.Context(), req))
}
