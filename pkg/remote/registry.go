package remote

import (
	"context"
	"strings"
	"sync"
)

// Registry shares one Conn per server URL between the interceptors of a
// process. Callers create it and pass it to every remote interceptor that
// should share connections.
type Registry struct {
	opts []DialOption

	mu    sync.Mutex
	conns map[string]*entry
}

type entry struct {
	conn *Conn
	refs int
}

// NewRegistry creates an empty registry. opts apply to every dial.
func NewRegistry(opts ...DialOption) *Registry {
	return &Registry{
		opts:  opts,
		conns: make(map[string]*entry),
	}
}

// Acquire returns the connection to serverURL, dialing it if needed. The
// returned release function must be called once the caller is done; the
// connection is closed when its last holder releases it. A connection that
// was lost is replaced on the next Acquire.
func (r *Registry) Acquire(ctx context.Context, serverURL string) (*Conn, func(), error) {
	key := strings.TrimRight(serverURL, "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[key]
	if ok && e.conn.Err() != nil {
		delete(r.conns, key)
		ok = false
	}
	if !ok {
		conn, err := Dial(ctx, key, r.opts...)
		if err != nil {
			return nil, nil, err
		}
		e = &entry{conn: conn}
		r.conns[key] = e
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(key, e) })
	}
	return e.conn, release, nil
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && r.conns[key] == e {
		delete(r.conns, key)
	}
	r.mu.Unlock()

	if last {
		_ = e.conn.Close()
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close closes every connection regardless of holders.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		_ = e.conn.Close()
	}
}
