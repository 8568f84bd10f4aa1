package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/getmockd/interceptd/internal/matching"
	"github.com/getmockd/interceptd/pkg/engine"
	"github.com/getmockd/interceptd/pkg/unhandled"
)

// ValidationError represents a validation failure with context.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// headerNameRegex validates HTTP header names (RFC 7230).
var headerNameRegex = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+\-.^_\x60|~]+$`)

// Validate checks the file and returns the first problem found.
func (f *File) Validate() error {
	if err := f.Interceptor.Validate(); err != nil {
		return err
	}
	if err := f.Logging.Validate(); err != nil {
		return err
	}
	for i := range f.Handlers {
		if err := f.Handlers[i].validate(fmt.Sprintf("handlers[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the interceptor settings.
func (c *InterceptorConfig) Validate() error {
	switch c.Type {
	case "", "local", "remote":
	default:
		return &ValidationError{Field: "interceptor.type", Message: fmt.Sprintf("unknown type %q (expected local or remote)", c.Type)}
	}

	if c.BaseURL != "" {
		if err := absoluteURL(c.BaseURL); err != nil {
			return &ValidationError{Field: "interceptor.baseURL", Message: err.Error()}
		}
	} else if c.Type == "remote" {
		return &ValidationError{Field: "interceptor.baseURL", Message: "baseURL is required for remote interceptors"}
	}

	if c.ServerURL != "" {
		if c.Type != "remote" {
			return &ValidationError{Field: "interceptor.serverURL", Message: "serverURL only applies to remote interceptors"}
		}
		if err := absoluteURL(c.ServerURL); err != nil {
			return &ValidationError{Field: "interceptor.serverURL", Message: err.Error()}
		}
	}

	if c.Unhandled != nil {
		switch c.Unhandled.Action {
		case "", unhandled.ActionReject:
		case unhandled.ActionBypass:
			if c.Type == "remote" {
				return &ValidationError{Field: "interceptor.unhandled.action", Message: "remote interceptors cannot bypass requests"}
			}
		default:
			return &ValidationError{Field: "interceptor.unhandled.action", Message: fmt.Sprintf("unknown action %q (expected bypass or reject)", c.Unhandled.Action)}
		}
	}
	return nil
}

func absoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("URL %q must be absolute", raw)
	}
	return nil
}

// Validate checks the logging settings.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Level)}
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return &ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q (expected text or json)", c.Format)}
	}
	return nil
}

func (h *HandlerConfig) validate(field string) error {
	if h.Method == "" {
		return &ValidationError{Field: field + ".method", Message: "method is required"}
	}
	if !slices.Contains(engine.Methods, strings.ToUpper(h.Method)) {
		return &ValidationError{Field: field + ".method", Message: fmt.Sprintf("unsupported method %q", h.Method)}
	}
	if h.Path == "" {
		return &ValidationError{Field: field + ".path", Message: "path is required"}
	}
	if _, err := matching.Compile(h.Path); err != nil {
		return &ValidationError{Field: field + ".path", Message: err.Error()}
	}

	for i, r := range h.Restrictions {
		if r.IsZero() {
			return &ValidationError{Field: fmt.Sprintf("%s.restrictions[%d]", field, i), Message: "restriction is empty"}
		}
		for name := range r.Headers {
			if !headerNameRegex.MatchString(name) {
				return &ValidationError{Field: fmt.Sprintf("%s.restrictions[%d].headers", field, i), Message: fmt.Sprintf("invalid header name %q", name)}
			}
		}
		if err := r.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("%s.restrictions[%d]", field, i), Message: err.Error()}
		}
	}

	if h.Response != nil {
		if err := h.Response.validate(field + ".response"); err != nil {
			return err
		}
	}

	if h.Delay != nil {
		if _, err := h.Delay.Spec(); err != nil {
			return &ValidationError{Field: field + ".delay", Message: err.Error()}
		}
	}

	if h.Times != nil {
		if err := h.Times.validate(field + ".times"); err != nil {
			return err
		}
	}
	return nil
}

func (r *ResponseConfig) validate(field string) error {
	switch engine.Action(r.Action) {
	case "", engine.ActionBypass, engine.ActionReject:
	default:
		return &ValidationError{Field: field + ".action", Message: fmt.Sprintf("unknown action %q (expected bypass or reject)", r.Action)}
	}
	if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
		return &ValidationError{Field: field + ".status", Message: fmt.Sprintf("status must be between 100 and 599, got %d", r.Status)}
	}
	for name := range r.Headers {
		if !headerNameRegex.MatchString(name) {
			return &ValidationError{Field: field + ".headers", Message: fmt.Sprintf("invalid header name %q", name)}
		}
	}
	return nil
}

func (t *TimesConfig) validate(field string) error {
	for _, n := range []*int{t.Exactly, t.Min, t.Max} {
		if n != nil && *n < 0 {
			return &ValidationError{Field: field, Message: "counts must not be negative"}
		}
	}
	if t.Min != nil && t.Max != nil && *t.Max < *t.Min {
		return &ValidationError{Field: field, Message: fmt.Sprintf("max %d is below min %d", *t.Max, *t.Min)}
	}
	if t.Exactly == nil && t.Min == nil && t.Max == nil {
		return &ValidationError{Field: field, Message: "times needs a count or a min/max range"}
	}
	return nil
}
