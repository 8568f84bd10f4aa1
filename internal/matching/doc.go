// Package matching decides whether an intercepted request satisfies a
// handler's declarations.
//
// It has two halves:
//
//   - Path patterns: Compile turns a pattern such as "/users/:id/files/:path*"
//     into a Pattern whose Match extracts named parameters from a path.
//   - Restrictions: Evaluate checks a request against declared headers,
//     search params, path params, body, JSONPath conditions, a JSON Schema,
//     an expr-lang expression and a Go predicate.
//
// When a handler is never satisfied, MatchBreakdown, Closest and Diff explain
// how the closest request differed from what was declared.
package matching
