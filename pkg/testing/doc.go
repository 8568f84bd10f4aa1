// Package testing provides a testing SDK for intercepting HTTP requests in
// Go tests.
//
// New starts a local interceptor bound to the test. Requests made through
// its Client or Transport are answered by the declared handlers; any other
// request is rejected, so unexpected calls fail the code under test.
//
// # Basic Usage
//
//	func TestMyAPI(t *testing.T) {
//	    mock := interceptdtesting.New(t, interceptdtesting.WithBaseURL("https://api.example.com"))
//
//	    mock.Mock("GET", "/users/:id").
//	        RespondJSON(map[string]string{"id": "123", "name": "Test User"}).
//	        Once().
//	        Reply()
//
//	    client := NewAPIClient(mock.Client())
//	    user, err := client.GetUser(ctx, "123")
//	    // ...
//
//	    mock.AssertCalled(t, "GET", "/users/:id")
//	}
//
// Call counts declared with Times, Once or Twice are checked when the test
// completes.
//
// # Request Matching
//
//	mock.Mock("GET", "/search").
//	    WithQueryParam("q", "test").
//	    WithStatus(200).
//	    Reply()
//
//	mock.Mock("POST", "/api/data").
//	    WithRequestHeader("Authorization", "Bearer token123").
//	    WithJSONPath("$.kind", "important").
//	    WithStatus(201).
//	    Reply()
//
// The newest matching handler answers. A saturated handler lets requests
// fall through to older ones.
//
// # Assertions
//
//	for _, req := range mock.Requests() {
//	    req.AssertHeader(t, "Content-Type", "application/json")
//	    req.AssertJSONField(t, "name", "Test User")
//	}
package testing
