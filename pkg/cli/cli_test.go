package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/interceptd/pkg/remote"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, "interceptor.yaml", `
interceptor:
  baseURL: http://api.test
handlers:
  - method: GET
    path: /users/:id
  - method: POST
    path: /users
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "/users/:id")
}

func TestValidate_JSONOutput(t *testing.T) {
	path := writeConfig(t, "interceptor.yaml", "handlers:\n  - method: TRACE\n    path: /a\n")
	out, err := execute(t, "validate", "--config", path, "--json")
	require.Error(t, err)

	var result ValidateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "handlers[0].method")
}

func TestValidate_RequiresConfig(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestVersion_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var v VersionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.NotEmpty(t, v.Go)
	assert.NotEmpty(t, v.OS)
}

func TestServer(t *testing.T) {
	pr, pw := io.Pipe()
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"server", "--port", "0", "--print-url", "--log-level", "error"})
	cmd.SetOut(pw)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	line, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	url := strings.TrimSpace(line)
	require.True(t, strings.HasPrefix(url, "http://127.0.0.1:"), url)

	resp, err := http.Get(url + "/anything")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(url + remote.MetricsPath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func startRemoteServer(t *testing.T) (*remote.Server, *httptest.Server) {
	t.Helper()
	s := remote.NewServer()
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

func startRun(t *testing.T, path string) (context.CancelFunc, <-chan error) {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"run", "--config", path})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
		return nil
	}
}

func TestRun(t *testing.T) {
	s, srv := startRemoteServer(t)
	path := writeConfig(t, "interceptor.yaml", `
interceptor:
  type: remote
  baseURL: `+srv.URL+`/api
logging:
  level: error
handlers:
  - method: GET
    path: /hello
    response:
      body: hi
    times: 1
`)
	cancel, done := startRun(t, path)

	require.Eventually(t, func() bool {
		return slices.Contains(s.Routes(), "/api")
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi", string(body))

	cancel()
	assert.NoError(t, wait(t, done))
}

func TestRun_ReportsUnsatisfiedTimes(t *testing.T) {
	s, srv := startRemoteServer(t)
	path := writeConfig(t, "interceptor.json", `{
		"interceptor": {"type": "remote", "baseURL": "`+srv.URL+`/svc"},
		"logging": {"level": "error"},
		"handlers": [{"method": "POST", "path": "/jobs", "times": 2}]
	}`)
	cancel, done := startRun(t, path)

	require.Eventually(t, func() bool {
		return slices.Contains(s.Routes(), "/svc")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	err := wait(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/jobs")
}

func TestRun_RejectsLocalInterceptors(t *testing.T) {
	path := writeConfig(t, "interceptor.yaml", "interceptor:\n  baseURL: http://api.test\n")
	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only remote interceptors")
}
