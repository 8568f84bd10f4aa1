// Package logging provides structured logging configuration for interceptd.
//
// This package wraps log/slog so interceptors, the remote server and the
// runner all log the same way. It supports configurable log levels and
// output formats.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Warn("unhandled request", "method", "GET", "url", "http://localhost/users")
//
// # Integration
//
// Components accept a *slog.Logger in their options. If none is provided
// they use logging.Nop(). Tests that need to assert on log output can use a
// Recorder as the slog.Handler.
package logging
