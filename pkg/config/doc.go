// Package config loads declarative interceptor definitions from JSON or
// YAML files.
//
// A file configures one interceptor, its logging and its handlers:
//
//	interceptor:
//	  type: local
//	  baseURL: https://api.example.com
//	  unhandled:
//	    action: reject
//	logging:
//	  level: debug
//	handlers:
//	  - method: GET
//	    path: /users/:id
//	    response:
//	      status: 200
//	      body: {name: ann}
//	    delay: 50ms
//	    times: 1
//	  - method: POST
//	    path: /users
//	    restrictions:
//	      - bodyJsonPath:
//	          $.name: ann
//	    response:
//	      status: 201
//	    delay: {min: 10ms, max: 100ms}
//	    times: {min: 1}
//
// Load and the Parse functions validate the file. Handlers are declared on
// an interceptor with File.Apply or File.NewInterceptor.
package config
