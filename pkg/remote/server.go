package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/getmockd/interceptd/pkg/httputil"
	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/request"
)

// Reserved server paths.
const (
	ConnectPath = "/__interceptd/connect"
	MetricsPath = "/__interceptd/metrics"
)

const (
	// DefaultRequestTimeout bounds how long the server waits for an
	// interceptor to resolve a request.
	DefaultRequestTimeout = 30 * time.Second

	// maxMessageSize fits a base64 encoded body of request.MaxBodySize.
	maxMessageSize = 16 << 20

	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ErrConnectionLost is returned for requests in flight on a channel that
// went away.
var ErrConnectionLost = errors.New("interceptor connection lost")

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithRequestTimeout sets how long a request waits for its interceptor.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server is the listening side of remote interceptors. Interceptors connect
// over WebSocket and register base paths; every other request is shipped to
// the interceptor with the longest registered base path above it.
type Server struct {
	log     *slog.Logger
	metrics *serverMetrics
	timeout time.Duration
	accept  websocket.AcceptOptions
	connID  atomic.Uint64

	mu       sync.RWMutex
	sessions map[*session]struct{}
	// routes holds, per base path, the sessions that registered it. The
	// last one serves requests.
	routes map[string][]*session
}

// NewServer creates a server with no connected interceptors.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		metrics:  newServerMetrics(),
		timeout:  DefaultRequestTimeout,
		accept:   websocket.AcceptOptions{InsecureSkipVerify: true},
		sessions: make(map[*session]struct{}),
		routes:   make(map[string][]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log)
	return s
}

// ServeHTTP dispatches interceptor connections, metrics and intercepted
// requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case ConnectPath:
		s.handleConnect(w, r)
	case MetricsPath:
		s.metrics.handler().ServeHTTP(w, r)
	default:
		s.handleRequest(w, r)
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("remote server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not closed by Shutdown.
		s.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close disconnects every interceptor. Their in-flight requests fail with
// ErrConnectionLost.
func (s *Server) Close() {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
}

// Routes returns the registered base paths.
func (s *Server) Routes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.routes))
	for base := range s.routes {
		out = append(out, base)
	}
	return out
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		s.log.Warn("interceptor connection upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:      fmt.Sprintf("conn-%d", s.connID.Add(1)),
		conn:    conn,
		ctx:     ctx,
		pending: make(map[string]chan *Message),
		bases:   make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	sess.log = s.log.With("connection_id", sess.id)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.metrics.connections.Inc()
	sess.log.Info("interceptor connected", "remote_addr", r.RemoteAddr)

	defer func() {
		cancel()
		s.removeSession(sess)
		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		sess.log.Info("interceptor disconnected")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			sess.log.Warn("invalid interceptor message", "error", err)
			continue
		}
		s.handleMessage(sess, msg)
	}
}

func (s *Server) handleMessage(sess *session, msg *Message) {
	switch msg.Type {
	case MessageTypeRegister:
		base := NormalizeBase(msg.Base)
		s.mu.Lock()
		s.routes[base] = append(withoutSession(s.routes[base], sess), sess)
		sess.bases[base] = struct{}{}
		s.metrics.routes.Set(float64(len(s.routes)))
		s.mu.Unlock()
		sess.log.Debug("interceptor registered", "base", base)
		sess.send(&Message{Type: MessageTypeRegistered, ID: msg.ID, Base: base})

	case MessageTypeUnregister:
		base := NormalizeBase(msg.Base)
		s.mu.Lock()
		s.dropRoute(base, sess)
		delete(sess.bases, base)
		s.metrics.routes.Set(float64(len(s.routes)))
		s.mu.Unlock()
		sess.log.Debug("interceptor unregistered", "base", base)

	case MessageTypeResponse, MessageTypeError:
		sess.deliver(msg)

	case MessageTypePing:
		sess.send(NewPongMessage(msg.ID))

	case MessageTypePong:
		// keepalive only

	default:
		sess.log.Debug("ignoring interceptor message", "type", msg.Type)
	}
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	for base := range sess.bases {
		s.dropRoute(base, sess)
	}
	s.metrics.routes.Set(float64(len(s.routes)))
	s.mu.Unlock()
	s.metrics.connections.Dec()
	sess.close()
}

// route finds the session serving path.
func (s *Server) route(path string) (*session, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base, ok := longestBase(path, s.routes)
	if !ok {
		return nil, ""
	}
	stack := s.routes[base]
	return stack[len(stack)-1], base
}

// dropRoute removes sess from the sessions serving base. An earlier
// registration takes over again. The caller holds s.mu.
func (s *Server) dropRoute(base string, sess *session) {
	stack := withoutSession(s.routes[base], sess)
	if len(stack) == 0 {
		delete(s.routes, base)
		return
	}
	s.routes[base] = stack
}

func withoutSession(stack []*session, sess *session) []*session {
	return slices.DeleteFunc(slices.Clone(stack), func(other *session) bool { return other == sess })
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := r.Method
	log := s.log.With("method", method, "url", r.URL.String())

	sess, base := s.route(r.URL.Path)
	if sess == nil {
		s.count(method, OutcomeUnavailable)
		log.Warn("no interceptor registered for request")
		httputil.WriteServiceUnavailable(w, httputil.CodeNoInterceptor, "no interceptor registered for this path")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, request.MaxBodySize+1))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "failed to read request body")
		return
	}
	if len(body) > request.MaxBodySize {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, httputil.CodeBodyTooLarge, "request body too large")
		return
	}

	msg := &Message{
		Type:    MessageTypeRequest,
		ID:      uuid.NewString(),
		Base:    base,
		Method:  method,
		URL:     absoluteURL(r),
		Headers: r.Header.Clone(),
		Body:    body,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	reply, err := sess.roundTrip(ctx, msg)
	s.metrics.requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrConnectionLost):
		s.count(method, OutcomeLost)
		log.Warn("interceptor connection lost while resolving request")
		httputil.WriteServiceUnavailable(w, httputil.CodeConnectionLost, "interceptor connection lost")
		return
	case err != nil && r.Context().Err() != nil:
		s.count(method, OutcomeCancelled)
		sess.send(&Message{Type: MessageTypeCancel, ID: msg.ID})
		return
	case err != nil:
		s.count(method, OutcomeCancelled)
		sess.send(&Message{Type: MessageTypeCancel, ID: msg.ID})
		log.Warn("interceptor did not answer in time", "timeout", s.timeout)
		httputil.WriteError(w, http.StatusGatewayTimeout, httputil.CodeInterceptorTimeout, "interceptor did not answer in time")
		return
	}

	if reply.Type == MessageTypeError {
		log.Error("interceptor failed to resolve request", "error", reply.Error)
		s.count(method, OutcomeRejected)
		reject(w)
		return
	}
	if reply.Action == ActionReject {
		s.count(method, OutcomeRejected)
		reject(w)
		return
	}

	for key, values := range reply.Headers {
		if http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(reply.Body)))
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	s.count(method, OutcomeResponded)
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}

func (s *Server) count(method, outcome string) {
	s.metrics.requestsTotal.WithLabelValues(method, outcome).Inc()
}

// reject drops the client connection without a response. Writers that
// cannot be hijacked get a 503.
func reject(w http.ResponseWriter) {
	if hijacker, ok := w.(http.Hijacker); ok {
		conn, _, err := hijacker.Hijack()
		if err == nil {
			_ = conn.Close()
			return
		}
	}
	httputil.WriteServiceUnavailable(w, httputil.CodeRejected, "request rejected")
}

func absoluteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// session is one connected interceptor channel.
type session struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context
	log  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *Message
	bases   map[string]struct{}
	closed  bool
	done    chan struct{}
}

// roundTrip ships msg and waits for the reply with the same ID.
func (sess *session) roundTrip(ctx context.Context, msg *Message) (*Message, error) {
	ch := make(chan *Message, 1)
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil, ErrConnectionLost
	}
	sess.pending[msg.ID] = ch
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		delete(sess.pending, msg.ID)
		sess.mu.Unlock()
	}()

	if err := sess.write(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-sess.done:
		return nil, ErrConnectionLost
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands a reply to the request waiting for it.
func (sess *session) deliver(msg *Message) {
	sess.mu.Lock()
	ch, ok := sess.pending[msg.ID]
	sess.mu.Unlock()
	if !ok {
		sess.log.Debug("dropping reply for unknown request", "id", msg.ID)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (sess *session) send(msg *Message) {
	if err := sess.write(msg); err != nil {
		sess.log.Debug("failed to send message", "type", msg.Type, "error", err)
	}
}

// write sends msg. A write that times out closes the channel.
func (sess *session) write(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(sess.ctx, writeTimeout)
	defer cancel()
	return sess.conn.Write(ctx, websocket.MessageText, data)
}

func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	close(sess.done)
}
