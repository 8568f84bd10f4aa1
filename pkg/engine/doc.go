// Package engine holds the handlers an interceptor declares and resolves
// intercepted requests against them.
//
// A Handler is one expectation: a method, a path pattern, restrictions, a
// response, an optional delay and a call-count policy. Declarations are
// append-only; the most recent Respond and Delay are the active ones.
//
// Registry.Resolve scans the handlers registered for the request's method
// from newest to oldest. A handler is eligible when the request is under the
// registry's base URL, its path matches the handler's pattern and every
// restriction holds. Handlers that reached their maximum call count are
// skipped, so requests overflow to older declarations:
//
//	h0 := reg.MustHandle("GET", "/users").Respond(engine.Response{Status: 200})
//	h1 := reg.MustHandle("GET", "/users").Respond(engine.Response{Status: 201}).Times(1)
//	h2 := reg.MustHandle("GET", "/users").Respond(engine.Response{Status: 202}).Times(1)
//	// requests get 202, then 201, then 200 forever
//
// Counting is atomic per handler. A request that is cancelled while its
// response is being computed or delayed gives its call back.
package engine
