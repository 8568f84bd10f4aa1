// Package unhandled decides what happens to requests no handler answered.
//
// A Policy resolves a Strategy for each unhandled request. Strategies come
// from, in order of precedence: a Factory, a static Strategy, and the default
// for the interceptor mode. Local interceptors bypass unhandled requests to
// the real network by default; remote interceptors reject them, and cannot
// bypass at all.
//
// When a strategy asks for logging, the request is logged with its method,
// URL, headers, search params and a body summary: bypassed requests at warn
// level, rejected ones at error level.
package unhandled
