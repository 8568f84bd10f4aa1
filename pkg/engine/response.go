package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getmockd/interceptd/pkg/request"
)

// Action is a response that is not rendered by the interceptor.
type Action string

const (
	// ActionBypass forwards the request to its real destination.
	ActionBypass Action = "bypass"
	// ActionReject fails the request with a network error.
	ActionReject Action = "reject"
)

// Response is a response declaration. When Action is set the other fields
// are ignored.
type Response struct {
	// Status defaults to 200.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	Header http.Header `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is sent as text for string, as-is for []byte and request.Blob,
	// and JSON-encoded otherwise.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	Action Action `json:"action,omitempty" yaml:"action,omitempty"`
}

// ResponseFactory computes a response from the intercepted request.
type ResponseFactory func(ctx context.Context, req *request.Request) (Response, error)

// Bypass declares that matching requests go to the real network.
func Bypass() Response { return Response{Action: ActionBypass} }

// Reject declares that matching requests fail with a network error.
func Reject() Response { return Response{Action: ActionReject} }

// JSON declares a JSON response.
func JSON(status int, body any) Response {
	return Response{Status: status, Body: body}
}

// Render returns the status, headers and body to send. Content-Type is set
// from the body type unless declared.
func (r Response) Render() (int, http.Header, []byte, error) {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	var (
		body        []byte
		contentType string
	)
	switch v := r.Body.(type) {
	case nil:
	case string:
		body, contentType = []byte(v), "text/plain; charset=utf-8"
	case []byte:
		body, contentType = v, "application/octet-stream"
	case request.Blob:
		body, contentType = v.Data, v.ContentType
	case *request.Blob:
		body, contentType = v.Data, v.ContentType
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("failed to marshal response body: %w", err)
		}
		body, contentType = data, "application/json"
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	return status, header, body, nil
}

// declaration is one Respond or RespondWith call.
type declaration struct {
	static  *Response
	factory ResponseFactory
}

func (d declaration) resolve(ctx context.Context, req *request.Request) (Response, error) {
	if d.factory != nil {
		return d.factory(ctx, req)
	}
	return *d.static, nil
}
