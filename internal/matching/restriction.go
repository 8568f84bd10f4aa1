package matching

import (
	"context"
	"fmt"
	"net/url"

	"github.com/getmockd/interceptd/pkg/request"
)

// Predicate is a custom restriction over the fully parsed request.
type Predicate func(ctx context.Context, req *request.Request) (bool, error)

// Restriction is one declared constraint on a request. Every non-empty target
// must hold for the restriction to match.
type Restriction struct {
	// Headers to compare. Names are case-insensitive; multi-valued request
	// headers are joined with ", " before comparison.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// SearchParams are compared as ordered lists of values.
	SearchParams url.Values `json:"searchParams,omitempty" yaml:"searchParams,omitempty"`

	// PathParams are compared against the parameters extracted by the
	// handler's path pattern.
	PathParams map[string]string `json:"pathParams,omitempty" yaml:"pathParams,omitempty"`

	// Body is compared according to its Go type: string as text, []byte or
	// request.Blob as binary, *request.FormData or url.Values as a form, and
	// anything else as JSON.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	// Exact requires full equality instead of containment.
	Exact bool `json:"exact,omitempty" yaml:"exact,omitempty"`

	// BodyJSONPath maps JSONPath expressions to expected values. An expected
	// value of {"exists": bool} checks presence only.
	BodyJSONPath map[string]any `json:"bodyJsonPath,omitempty" yaml:"bodyJsonPath,omitempty"`

	// BodySchema is a JSON Schema document the JSON body must satisfy.
	BodySchema any `json:"bodySchema,omitempty" yaml:"bodySchema,omitempty"`

	// Expression is a boolean expr-lang expression over the request.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Predicate is evaluated last.
	Predicate Predicate `json:"-" yaml:"-"`
}

// IsZero reports whether the restriction declares nothing.
func (r Restriction) IsZero() bool {
	return len(r.Headers) == 0 && len(r.SearchParams) == 0 && len(r.PathParams) == 0 &&
		r.Body == nil && len(r.BodyJSONPath) == 0 && r.BodySchema == nil &&
		r.Expression == "" && r.Predicate == nil
}

// Validate compiles the expression, schema and JSONPath targets so that
// mistakes surface when the restriction is declared.
func (r Restriction) Validate() error {
	for path := range r.BodyJSONPath {
		if err := ValidateJSONPathExpression(path); err != nil {
			return err
		}
	}
	if r.BodySchema != nil {
		if _, err := compileSchema(r.BodySchema); err != nil {
			return err
		}
	}
	if r.Expression != "" {
		if _, err := compileExpression(r.Expression); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate reports whether req satisfies every restriction. Restrictions are
// evaluated in order and evaluation stops at the first one that fails.
// Errors from predicates and expressions are returned with the match result
// set to false.
func Evaluate(ctx context.Context, restrictions []Restriction, req *request.Request) (bool, error) {
	for i := range restrictions {
		ok, err := restrictions[i].Matches(ctx, req)
		if err != nil {
			return false, fmt.Errorf("restriction %d: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Matches evaluates a single restriction against req.
func (r Restriction) Matches(ctx context.Context, req *request.Request) (bool, error) {
	if len(r.Headers) > 0 && !MatchHeaders(r.Headers, req.Header, r.Exact) {
		return false, nil
	}
	if len(r.SearchParams) > 0 && !MatchSearchParams(r.SearchParams, req.SearchParams, r.Exact) {
		return false, nil
	}
	if len(r.PathParams) > 0 && !MatchPathParams(r.PathParams, req.PathParams, r.Exact) {
		return false, nil
	}
	if r.Body != nil && !MatchBody(r.Body, req, r.Exact) {
		return false, nil
	}
	if len(r.BodyJSONPath) > 0 && !MatchJSONPath(r.BodyJSONPath, req.Body()) {
		return false, nil
	}
	if r.BodySchema != nil {
		ok, err := MatchSchema(r.BodySchema, req.Body())
		if err != nil || !ok {
			return false, err
		}
	}
	if r.Expression != "" {
		ok, err := EvalExpression(r.Expression, req)
		if err != nil || !ok {
			return false, err
		}
	}
	if r.Predicate != nil {
		ok, err := r.Predicate(ctx, req)
		if err != nil {
			return false, fmt.Errorf("predicate: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
