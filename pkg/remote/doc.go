// Package remote ships intercepted requests between a listening Server and
// the interceptors that resolve them.
//
// Interceptors dial the server's ConnectPath over WebSocket and register the
// base paths they own. The server forwards every other request to the
// interceptor with the longest matching base path as a request message with
// a fresh UUID, and writes back the response message carrying the same ID.
// Requests with no registered interceptor, or whose channel is lost while
// they are being resolved, get a 503. A rejected request has its client
// connection closed without a response.
//
// Connections are shared through an explicit Registry:
//
//	conns := remote.NewRegistry()
//	defer conns.Close()
//
//	conn, release, err := conns.Acquire(ctx, "http://localhost:4000")
//	if err != nil {
//		return err
//	}
//	defer release()
//
//	unregister, err := conn.Register(ctx, "/api", func(ctx context.Context, req *request.Request) (*remote.Reply, error) {
//		return &remote.Reply{Status: http.StatusOK, Body: []byte("ok")}, nil
//	})
//
// Server metrics are exposed in the Prometheus text format at MetricsPath.
package remote
