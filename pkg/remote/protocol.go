package remote

import (
	"encoding/json"
	"net/http"
)

// Message types exchanged between the server and interceptors.
const (
	MessageTypeRegister   = "register"
	MessageTypeRegistered = "registered"
	MessageTypeUnregister = "unregister"
	MessageTypeRequest    = "request"
	MessageTypeResponse   = "response"
	MessageTypeCancel     = "cancel"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeError      = "error"
)

// Reply actions carried by response messages.
const (
	ActionRespond = "respond"
	ActionReject  = "reject"
)

// Message is one frame on the interceptor channel. Requests and their
// responses share an ID.
type Message struct {
	Type    string      `json:"type"`              // see MessageType constants
	ID      string      `json:"id"`                // correlation ID
	Base    string      `json:"base,omitempty"`    // base path (register, unregister, request)
	Method  string      `json:"method,omitempty"`  // HTTP method (request)
	URL     string      `json:"url,omitempty"`     // absolute request URL (request)
	Headers http.Header `json:"headers,omitempty"` // request or response headers
	Body    []byte      `json:"body,omitempty"`    // request or response body
	Status  int         `json:"status,omitempty"`  // response status code
	Action  string      `json:"action,omitempty"`  // respond or reject (response)
	Error   string      `json:"error,omitempty"`   // error message
}

// NewResponseMessage creates a response message answering request id.
func NewResponseMessage(id string, status int, headers http.Header, body []byte) *Message {
	return &Message{
		Type:    MessageTypeResponse,
		ID:      id,
		Action:  ActionRespond,
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}

// NewRejectMessage creates a response message asking the server to fail
// request id at the network level.
func NewRejectMessage(id string) *Message {
	return &Message{
		Type:   MessageTypeResponse,
		ID:     id,
		Action: ActionReject,
	}
}

// NewErrorMessage creates an error message for id.
func NewErrorMessage(id, message string) *Message {
	return &Message{
		Type:  MessageTypeError,
		ID:    id,
		Error: message,
	}
}

// NewPongMessage creates a pong message answering ping id.
func NewPongMessage(id string) *Message {
	return &Message{
		Type: MessageTypePong,
		ID:   id,
	}
}

// Encode serializes the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message from JSON.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
