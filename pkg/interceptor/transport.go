package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/getmockd/interceptd/pkg/request"
)

// Transport is an http.RoundTripper that resolves requests through an
// interceptor. Bypassed requests go to Base.
type Transport struct {
	Interceptor *Interceptor

	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// Transport returns a RoundTripper intercepting requests made through it.
func (i *Interceptor) Transport(base http.RoundTripper) *Transport {
	return &Transport{Interceptor: i, Base: base}
}

// Client returns an http.Client using Transport(nil).
func (i *Interceptor) Client() *http.Client {
	return &http.Client{Transport: i.Transport(nil)}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper. Rejected requests fail with an
// error wrapping ErrRequestRejected.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	req, err := request.FromHTTP(out, request.WithLogger(t.Interceptor.log))
	if err != nil {
		return nil, err
	}

	outcome, err := t.Interceptor.Resolve(r.Context(), req)
	if err != nil {
		return nil, err
	}

	switch outcome.Decision {
	case DecisionBypass:
		return t.base().RoundTrip(out)
	case DecisionReject:
		return nil, fmt.Errorf("%w: %s %s", ErrRequestRejected, req.Method, req.URL.String())
	}

	status, header, body, err := outcome.Response.Render()
	if err != nil {
		return nil, err
	}
	if r.Method == http.MethodHead {
		body = nil
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}, nil
}
