// Package interceptor ties a handler registry to an unhandled request policy
// and a transport.
//
// Local interceptors see requests made through Transport (or Client):
//
//	i, err := interceptor.New(interceptor.Options{BaseURL: "http://api.test"})
//	if err != nil {
//		return err
//	}
//	if err := i.Start(ctx); err != nil {
//		return err
//	}
//	defer i.Stop()
//
//	i.Get("/users/:id").Respond(engine.JSON(200, map[string]string{"name": "ann"}))
//	resp, err := i.Client().Get("http://api.test/users/1")
//
// Remote interceptors connect to a remote.Server and answer the requests it
// receives under their base URL. They never bypass: unhandled requests and
// bypass responses are rejected.
package interceptor
