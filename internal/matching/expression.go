package matching

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getmockd/interceptd/pkg/request"
)

// ExprEnv is the environment restriction expressions are evaluated against.
// Header names are lower-cased.
//
//	method == "POST" && headers["content-type"] startsWith "application/json"
//	query["page"][0] == "2" && body?.user?.role == "admin"
type ExprEnv struct {
	Method  string              `expr:"method"`
	URL     string              `expr:"url"`
	Path    string              `expr:"path"`
	Headers map[string]string   `expr:"headers"`
	Query   map[string][]string `expr:"query"`
	Params  map[string]string   `expr:"params"`
	Body    any                 `expr:"body"`
}

var (
	programMu    sync.RWMutex
	programCache = make(map[string]*vm.Program)
)

// NewExprEnv builds the expression environment for req.
func NewExprEnv(req *request.Request) ExprEnv {
	env := ExprEnv{
		Method:  req.Method,
		URL:     req.URL.String(),
		Path:    req.Path(),
		Headers: make(map[string]string, len(req.Header)),
		Query:   map[string][]string(req.SearchParams),
		Params:  req.PathParams,
		Body:    req.Body().Value(),
	}
	for name, values := range req.Header {
		env.Headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if env.Query == nil {
		env.Query = map[string][]string{}
	}
	if env.Params == nil {
		env.Params = map[string]string{}
	}
	return env
}

// EvalExpression evaluates a boolean expression against req.
func EvalExpression(expression string, req *request.Request) (bool, error) {
	program, err := compileExpression(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, NewExprEnv(req))
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expression, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func compileExpression(expression string) (*vm.Program, error) {
	programMu.RLock()
	if program, ok := programCache[expression]; ok {
		programMu.RUnlock()
		return program, nil
	}
	programMu.RUnlock()

	program, err := expr.Compile(expression, expr.Env(ExprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	programMu.Lock()
	if existing, ok := programCache[expression]; ok {
		programMu.Unlock()
		return existing, nil
	}
	programCache[expression] = program
	programMu.Unlock()

	return program, nil
}
