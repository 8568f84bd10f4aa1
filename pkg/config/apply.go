package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/getmockd/interceptd/pkg/interceptor"
	"github.com/getmockd/interceptd/pkg/logging"
)

// Logger builds the logger described by the logging section.
func (f *File) Logger(w io.Writer) *slog.Logger {
	cfg := logging.DefaultConfig()
	if f.Logging.Level != "" {
		cfg.Level = logging.ParseLevel(f.Logging.Level)
	}
	if f.Logging.Format != "" {
		cfg.Format = logging.ParseFormat(f.Logging.Format)
	}
	if w != nil {
		cfg.Output = w
	}
	return logging.New(cfg)
}

// Options converts the interceptor section to interceptor options.
func (f *File) Options(log *slog.Logger) interceptor.Options {
	return interceptor.Options{
		Type:         interceptor.Type(f.Interceptor.Type),
		BaseURL:      f.Interceptor.BaseURL,
		ServerURL:    f.Interceptor.ServerURL,
		SaveRequests: f.Interceptor.SaveRequests,
		Unhandled:    f.Interceptor.Unhandled,
		Logger:       log,
	}
}

// NewInterceptor creates a stopped interceptor with every handler of the
// file declared on it.
func (f *File) NewInterceptor(log *slog.Logger) (*interceptor.Interceptor, error) {
	i, err := interceptor.New(f.Options(log))
	if err != nil {
		return nil, err
	}
	if err := f.Apply(i); err != nil {
		return nil, err
	}
	return i, nil
}

// Apply declares the file's handlers on i, in order.
func (f *File) Apply(i *interceptor.Interceptor) error {
	for idx, hc := range f.Handlers {
		h, err := i.Handle(strings.ToUpper(hc.Method), hc.Path)
		if err != nil {
			return fmt.Errorf("handlers[%d]: %w", idx, err)
		}
		for _, r := range hc.Restrictions {
			h.With(r)
		}
		if hc.Response != nil {
			h.Respond(hc.Response.Response())
		}
		if hc.Delay != nil {
			spec, err := hc.Delay.Spec()
			if err != nil {
				return fmt.Errorf("handlers[%d]: delay: %w", idx, err)
			}
			h.Delay(spec)
		}
		if hc.Times != nil {
			h.SetTimes(hc.Times.Policy())
		}
		if err := h.Err(); err != nil {
			return fmt.Errorf("handlers[%d]: %w", idx, err)
		}
	}
	return nil
}
