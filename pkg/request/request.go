package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/getmockd/interceptd/pkg/logging"
)

// MaxBodySize is the largest request body FromHTTP will buffer (10MB).
const MaxBodySize = 10 << 20

// Request is a transport-independent view of an intercepted HTTP request.
type Request struct {
	// Method is the upper-case HTTP method.
	Method string

	// URL is the full request URL, including scheme and host.
	URL *url.URL

	// Header is the request header multimap.
	Header http.Header

	// SearchParams holds the query parameters as ordered string lists.
	SearchParams url.Values

	// PathParams are the parameters extracted from the path by the handler
	// currently evaluating the request. Empty outside of a handler.
	PathParams map[string]string

	// RawBody is the unparsed request body.
	RawBody []byte

	// ContentType is the declared Content-Type header value.
	ContentType string

	body *lazyBody
}

type lazyBody struct {
	once   sync.Once
	log    *slog.Logger
	parsed Body
}

// Option configures request construction.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used to report body parse failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds a Request from its parts. The URL must be absolute.
func New(method, rawURL string, header http.Header, body []byte, opts ...Option) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url %q is not absolute", rawURL)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if header == nil {
		header = http.Header{}
	}

	return &Request{
		Method:       strings.ToUpper(method),
		URL:          u,
		Header:       header,
		SearchParams: u.Query(),
		PathParams:   map[string]string{},
		RawBody:      body,
		ContentType:  header.Get("Content-Type"),
		body:         &lazyBody{log: logging.OrNop(o.log)},
	}, nil
}

// FromHTTP converts an outgoing or incoming *http.Request. The body is read
// in full (up to MaxBodySize) and restored on r so it can still be sent.
func FromHTTP(r *http.Request, opts ...Option) (*Request, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(data) > MaxBodySize {
			return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodySize)
		}
		body = data
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	return New(r.Method, u.String(), r.Header.Clone(), body, opts...)
}

// Body returns the parsed body. Parsing happens on first use and is shared
// with every view derived from this request.
func (r *Request) Body() Body {
	if r.body == nil {
		r.body = &lazyBody{log: logging.Nop()}
	}
	r.body.once.Do(func() {
		r.body.parsed = parseBody(r.RawBody, r.ContentType, r.body.log)
	})
	return r.body.parsed
}

// Path returns the URL path.
func (r *Request) Path() string {
	return r.URL.Path
}

// WithPathParams returns a shallow copy of r carrying params. The copy shares
// the lazily parsed body with r.
func (r *Request) WithPathParams(params map[string]string) *Request {
	next := *r
	next.PathParams = maps.Clone(params)
	if next.PathParams == nil {
		next.PathParams = map[string]string{}
	}
	if r.body == nil {
		r.Body()
		next.body = r.body
	}
	return &next
}

// HTTPRequest rebuilds an *http.Request, used when a request is bypassed to
// its real destination.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(r.RawBody) > 0 {
		body = bytes.NewReader(r.RawBody)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	return req, nil
}

// BodySummary renders a short description of the body for log lines.
func (r *Request) BodySummary(limit int) string {
	b := r.Body()
	switch b.Kind {
	case KindNull:
		return ""
	case KindBinary:
		ct := r.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return fmt.Sprintf("<%d bytes of %s>", len(b.Binary), ct)
	case KindForm:
		return truncate(b.Form.String(), limit)
	default:
		return truncate(b.String(), limit)
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
