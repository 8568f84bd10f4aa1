package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/getmockd/interceptd/pkg/logging"
	"github.com/getmockd/interceptd/pkg/request"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("remote connection closed")

// Reply is an interceptor's answer to a shipped request.
type Reply struct {
	// Reject fails the request at the network level. The other fields are
	// ignored.
	Reject bool

	Status int
	Header http.Header
	Body   []byte
}

// Handler resolves a request shipped by the server. ctx is cancelled when
// the requester goes away or the connection is lost.
type Handler func(ctx context.Context, req *request.Request) (*Reply, error)

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	log    *slog.Logger
	header http.Header
}

// WithDialLogger sets the connection's logger.
func WithDialLogger(l *slog.Logger) DialOption {
	return func(o *dialOptions) { o.log = l }
}

// WithDialHeader adds headers to the WebSocket handshake.
func WithDialHeader(h http.Header) DialOption {
	return func(o *dialOptions) { o.header = h }
}

// Conn is an interceptor-side channel to a Server. Several interceptors
// share one Conn, each registered under its base path.
type Conn struct {
	serverURL string
	ws        *websocket.Conn
	log       *slog.Logger

	// ctx scopes request handlers and writes to the connection's lifetime.
	ctx    context.Context
	cancel context.CancelFunc

	// regMu orders register and unregister frames on the wire.
	regMu sync.Mutex

	mu        sync.Mutex
	handlers  map[string][]*registration
	acks      map[string]chan *Message
	inflight  map[string]context.CancelFunc
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

type registration struct {
	handler Handler
}

// Dial connects to the server at serverURL (http, https, ws or wss).
func Dial(ctx context.Context, serverURL string, opts ...DialOption) (*Conn, error) {
	o := dialOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	wsURL, err := connectURL(serverURL)
	if err != nil {
		return nil, err
	}

	ws, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: o.header})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to interceptor server: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		serverURL: serverURL,
		ws:        ws,
		log:       logging.OrNop(o.log).With("server", serverURL),
		ctx:       connCtx,
		cancel:    cancel,
		handlers:  make(map[string][]*registration),
		acks:      make(map[string]chan *Message),
		inflight:  make(map[string]context.CancelFunc),
		done:      make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// ServerURL returns the URL the connection was dialed with.
func (c *Conn) ServerURL() string { return c.serverURL }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection. In-flight handlers see their context cancelled.
func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Register routes requests under base to h until the returned function is
// called. When several handlers share a base path the latest one serves.
func (c *Conn) Register(ctx context.Context, base string, h Handler) (func(), error) {
	if h == nil {
		return nil, errors.New("handler is required")
	}
	base = NormalizeBase(base)
	reg := &registration{handler: h}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.handlers[base] = append(c.handlers[base], reg)
	c.mu.Unlock()

	if _, err := c.call(ctx, &Message{Type: MessageTypeRegister, ID: uuid.NewString(), Base: base}); err != nil {
		c.remove(base, reg)
		return nil, fmt.Errorf("register %q: %w", base, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unregister(base, reg) })
	}, nil
}

func (c *Conn) unregister(base string, reg *registration) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if !c.remove(base, reg) {
		return
	}
	if err := c.send(&Message{Type: MessageTypeUnregister, ID: uuid.NewString(), Base: base}); err != nil {
		c.log.Debug("failed to unregister base path", "base", base, "error", err)
	}
}

// remove drops reg and reports whether base has no handlers left.
func (c *Conn) remove(base string, reg *registration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.handlers[base]
	for i, r := range regs {
		if r == reg {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(c.handlers, base)
		return true
	}
	c.handlers[base] = regs
	return false
}

func (c *Conn) handler(base string) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.handlers[base]
	if len(regs) == 0 {
		return nil
	}
	return regs[len(regs)-1].handler
}

// call sends msg and waits for the acknowledgement with the same ID.
func (c *Conn) call(ctx context.Context, msg *Message) (*Message, error) {
	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.acks[msg.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Type == MessageTypeError {
			return nil, errors.New(reply.Error)
		}
		return reply, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readPump reads messages until the connection fails.
func (c *Conn) readPump() {
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %w", ErrConnectionLost, err))
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.log.Warn("invalid server message", "error", err)
			continue
		}

		switch msg.Type {
		case MessageTypeRequest:
			// Registered here so a cancel read next always finds it.
			ctx, cancel := context.WithCancel(c.ctx)
			c.mu.Lock()
			c.inflight[msg.ID] = cancel
			c.mu.Unlock()
			go c.handleRequest(ctx, cancel, msg)
		case MessageTypeCancel:
			c.mu.Lock()
			cancel, ok := c.inflight[msg.ID]
			c.mu.Unlock()
			if ok {
				cancel()
			}
		case MessageTypeRegistered, MessageTypeError:
			c.mu.Lock()
			ch, ok := c.acks[msg.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- msg:
				default:
				}
			} else if msg.Type == MessageTypeError {
				c.log.Error("interceptor server error", "error", msg.Error)
			}
		case MessageTypePing:
			go func() { _ = c.send(NewPongMessage(msg.ID)) }()
		}
	}
}

// handleRequest resolves one shipped request and sends the reply. cancel
// is already registered in c.inflight under msg.ID.
func (c *Conn) handleRequest(ctx context.Context, cancel context.CancelFunc, msg *Message) {
	defer cancel()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, msg.ID)
		c.mu.Unlock()
	}()

	log := c.log.With("id", msg.ID, "method", msg.Method, "url", msg.URL)

	h := c.handler(NormalizeBase(msg.Base))
	if h == nil {
		log.Warn("no interceptor registered for base path", "base", msg.Base)
		c.reply(log, NewRejectMessage(msg.ID))
		return
	}

	req, err := request.New(msg.Method, msg.URL, msg.Headers, msg.Body, request.WithLogger(c.log))
	if err != nil {
		c.reply(log, NewErrorMessage(msg.ID, err.Error()))
		return
	}

	reply, err := h(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// The requester or the connection went away.
			return
		}
		c.reply(log, NewErrorMessage(msg.ID, err.Error()))
		return
	}
	if reply == nil || reply.Reject {
		c.reply(log, NewRejectMessage(msg.ID))
		return
	}
	c.reply(log, NewResponseMessage(msg.ID, reply.Status, reply.Header, reply.Body))
}

func (c *Conn) reply(log *slog.Logger, msg *Message) {
	if err := c.send(msg); err != nil {
		log.Error("failed to send response", "error", err)
	}
}

// send writes msg. A write that times out closes the connection.
func (c *Conn) send(msg *Message) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()

		c.cancel()
		close(c.done)

		if errors.Is(reason, ErrClosed) {
			_ = c.ws.Close(websocket.StatusNormalClosure, "client disconnect")
			return
		}
		_ = c.ws.CloseNow()
		c.log.Warn("interceptor connection lost", "error", reason)
	})
}
