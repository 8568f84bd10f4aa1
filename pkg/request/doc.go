// Package request provides the normalized request view consumed by the
// matching engine.
//
// A Request carries the method, full URL, header and search-param multimaps,
// the raw body with its declared content type, and the path parameters the
// transport extracted for a given handler. The body is parsed lazily, at most
// once per request, following these rules:
//
//   - application/json and */*+json are parsed as JSON
//   - an absent or unrecognizable content type is parsed as JSON when the
//     bytes are valid JSON, and as text otherwise
//   - application/x-www-form-urlencoded and multipart/form-data become FormData
//   - text/*, XML and JavaScript types are text, decoded from their charset
//   - everything else is binary
//
// Parse failures are logged and leave the body null; they never fail the
// request.
package request
