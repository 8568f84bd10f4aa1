package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/interceptd/pkg/delay"
	"github.com/getmockd/interceptd/pkg/engine"
	"github.com/getmockd/interceptd/pkg/unhandled"
)

// File is a declarative interceptor definition.
type File struct {
	Interceptor InterceptorConfig `json:"interceptor" yaml:"interceptor"`
	Logging     LoggingConfig     `json:"logging,omitempty" yaml:"logging,omitempty"`
	Handlers    []HandlerConfig   `json:"handlers,omitempty" yaml:"handlers,omitempty"`
}

// InterceptorConfig configures the interceptor itself.
type InterceptorConfig struct {
	// Type is "local" (default) or "remote".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	BaseURL      string              `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	ServerURL    string              `json:"serverURL,omitempty" yaml:"serverURL,omitempty"`
	SaveRequests bool                `json:"saveRequests,omitempty" yaml:"saveRequests,omitempty"`
	Unhandled    *unhandled.Strategy `json:"unhandled,omitempty" yaml:"unhandled,omitempty"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// HandlerConfig declares one handler.
type HandlerConfig struct {
	Method       string               `json:"method" yaml:"method"`
	Path         string               `json:"path" yaml:"path"`
	Restrictions []engine.Restriction `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
	Response     *ResponseConfig      `json:"response,omitempty" yaml:"response,omitempty"`
	Delay        *DelayConfig         `json:"delay,omitempty" yaml:"delay,omitempty"`
	Times        *TimesConfig         `json:"times,omitempty" yaml:"times,omitempty"`
}

// ResponseConfig declares a handler's response.
type ResponseConfig struct {
	Status  int               `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any               `json:"body,omitempty" yaml:"body,omitempty"`

	// Action is "bypass" or "reject"; the other fields are then ignored.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
}

// Response converts the declaration to an engine response.
func (r *ResponseConfig) Response() engine.Response {
	resp := engine.Response{
		Status: r.Status,
		Body:   r.Body,
		Action: engine.Action(r.Action),
	}
	if len(r.Headers) > 0 {
		resp.Header = make(http.Header, len(r.Headers))
		for k, v := range r.Headers {
			resp.Header.Set(k, v)
		}
	}
	return resp
}

// DelayConfig is either a fixed delay ("100ms", or a bare number of
// milliseconds) or a {min, max} range.
type DelayConfig struct {
	Fixed string `json:"-" yaml:"-"`
	Min   string `json:"min,omitempty" yaml:"min,omitempty"`
	Max   string `json:"max,omitempty" yaml:"max,omitempty"`
}

type delayRange struct {
	Min durationValue `json:"min" yaml:"min"`
	Max durationValue `json:"max" yaml:"max"`
}

// durationValue is a duration string or a bare number of milliseconds.
type durationValue string

func (v *durationValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = durationValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a duration, got %s", data)
	}
	*v = durationValue(n.String())
	return nil
}

// UnmarshalYAML accepts a scalar or a mapping.
func (d *DelayConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*d = DelayConfig{Fixed: node.Value}
		return nil
	}
	var r delayRange
	if err := node.Decode(&r); err != nil {
		return err
	}
	*d = DelayConfig{Min: string(r.Min), Max: string(r.Max)}
	return nil
}

// UnmarshalJSON accepts a string, a number or an object.
func (d *DelayConfig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = DelayConfig{Fixed: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*d = DelayConfig{Fixed: n.String()}
		return nil
	}
	var r delayRange
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("delay must be a duration or a {min, max} object: %w", err)
	}
	*d = DelayConfig{Min: string(r.Min), Max: string(r.Max)}
	return nil
}

// Spec converts the declaration to a delay spec.
func (d *DelayConfig) Spec() (delay.Spec, error) {
	if d.Min == "" && d.Max == "" {
		v, err := parseDuration(d.Fixed)
		if err != nil {
			return delay.Spec{}, err
		}
		return delay.Fixed(v), nil
	}
	lo, err := parseDuration(d.Min)
	if err != nil {
		return delay.Spec{}, fmt.Errorf("min: %w", err)
	}
	hi, err := parseDuration(d.Max)
	if err != nil {
		return delay.Spec{}, fmt.Errorf("max: %w", err)
	}
	return delay.Range(lo, hi), nil
}

// parseDuration parses Go duration strings and bare millisecond counts.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// TimesConfig is either an exact count or a {min, max} range.
type TimesConfig struct {
	Exactly *int `json:"-" yaml:"-"`
	Min     *int `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *int `json:"max,omitempty" yaml:"max,omitempty"`
}

type timesRange struct {
	Min *int `json:"min" yaml:"min"`
	Max *int `json:"max" yaml:"max"`
}

// UnmarshalYAML accepts an integer or a mapping.
func (t *TimesConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		*t = TimesConfig{Exactly: &n}
		return nil
	}
	var r timesRange
	if err := node.Decode(&r); err != nil {
		return err
	}
	*t = TimesConfig{Min: r.Min, Max: r.Max}
	return nil
}

// UnmarshalJSON accepts an integer or an object.
func (t *TimesConfig) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*t = TimesConfig{Exactly: &n}
		return nil
	}
	var r timesRange
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("times must be an integer or a {min, max} object: %w", err)
	}
	*t = TimesConfig{Min: r.Min, Max: r.Max}
	return nil
}

// Policy converts the declaration to a times policy.
func (t *TimesConfig) Policy() engine.TimesPolicy {
	switch {
	case t.Exactly != nil:
		return engine.Times(*t.Exactly)
	case t.Min != nil && t.Max != nil:
		return engine.Times(*t.Min, *t.Max)
	case t.Min != nil:
		return engine.AtLeast(*t.Min)
	case t.Max != nil:
		return engine.Times(0, *t.Max)
	}
	return engine.TimesPolicy{}
}
