package matching

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/getmockd/interceptd/pkg/request"
)

// FieldResult describes whether a single restriction target matched a request.
type FieldResult struct {
	Field    string `json:"field"`
	Matched  bool   `json:"matched"`
	Score    int    `json:"score"`
	MaxScore int    `json:"maxScore"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
}

// NearMiss is the per-target breakdown of a request that did not satisfy a
// handler's restrictions.
type NearMiss struct {
	Score            int           `json:"score"`
	MaxPossibleScore int           `json:"maxPossibleScore"`
	MatchPercentage  int           `json:"matchPercentage"`
	Fields           []FieldResult `json:"fields"`
	Reason           string        `json:"reason"`
}

// MatchBreakdown evaluates every target of every restriction against req
// without short-circuiting. Only declared targets appear in the result.
func MatchBreakdown(ctx context.Context, restrictions []Restriction, req *request.Request) *NearMiss {
	result := &NearMiss{}
	add := func(field string, matched bool, maxScore int, expected, actual any) {
		score := 0
		if matched {
			score = maxScore
		}
		result.Fields = append(result.Fields, FieldResult{
			Field:    field,
			Matched:  matched,
			Score:    score,
			MaxScore: maxScore,
			Expected: expected,
			Actual:   actual,
		})
		result.Score += score
		result.MaxPossibleScore += maxScore
	}

	for _, r := range restrictions {
		if len(r.Headers) > 0 {
			add("headers", MatchHeaders(r.Headers, req.Header, r.Exact), ScoreHeaders,
				r.Headers, selectHeaders(r.Headers, req.Header, r.Exact))
		}
		if len(r.SearchParams) > 0 {
			add("searchParams", MatchSearchParams(r.SearchParams, req.SearchParams, r.Exact), ScoreSearchParams,
				r.SearchParams, selectValues(r.SearchParams, req.SearchParams, r.Exact))
		}
		if len(r.PathParams) > 0 {
			add("pathParams", MatchPathParams(r.PathParams, req.PathParams, r.Exact), ScorePathParams,
				r.PathParams, req.PathParams)
		}
		if r.Body != nil {
			add("body", MatchBody(r.Body, req, r.Exact), ScoreBody, r.Body, req.Body().Value())
		}
		if len(r.BodyJSONPath) > 0 {
			add("bodyJsonPath", MatchJSONPath(r.BodyJSONPath, req.Body()), ScoreJSONPath,
				r.BodyJSONPath, JSONPathValues(r.BodyJSONPath, req.Body()))
		}
		if r.BodySchema != nil {
			ok, err := MatchSchema(r.BodySchema, req.Body())
			add("bodySchema", ok, ScoreSchema, "valid", outcome(ok, err, "valid", "invalid"))
		}
		if r.Expression != "" {
			ok, err := EvalExpression(r.Expression, req)
			add("expression", ok, ScoreExpression, r.Expression, outcome(ok, err, "true", "false"))
		}
		if r.Predicate != nil {
			ok, err := r.Predicate(ctx, req)
			add("predicate", ok, ScorePredicate, "true", outcome(ok, err, "true", "false"))
		}
	}

	if result.MaxPossibleScore > 0 {
		result.MatchPercentage = (result.Score * 100) / result.MaxPossibleScore
	}
	result.Reason = GenerateReason(result.Fields)
	return result
}

// Closest returns the request among candidates that satisfies the most of
// the restrictions, with its breakdown. Ties go to the earliest request.
func Closest(ctx context.Context, restrictions []Restriction, candidates []*request.Request) (*request.Request, *NearMiss) {
	var (
		best   *request.Request
		bestNM *NearMiss
	)
	for _, c := range candidates {
		nm := MatchBreakdown(ctx, restrictions, c)
		if bestNM == nil || nm.Score > bestNM.Score {
			best, bestNM = c, nm
		}
	}
	return best, bestNM
}

func outcome(ok bool, err error, passed, failed string) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case ok:
		return passed
	default:
		return failed
	}
}

func selectHeaders(expected map[string]string, headers http.Header, exact bool) map[string]string {
	out := make(map[string]string)
	if exact {
		for name := range headers {
			out[strings.ToLower(name)], _ = HeaderValue(headers, name)
		}
		return out
	}
	for name := range expected {
		if v, ok := HeaderValue(headers, name); ok {
			out[name] = v
		}
	}
	return out
}

func selectValues(expected, actual url.Values, exact bool) url.Values {
	if exact {
		return maps.Clone(actual)
	}
	out := url.Values{}
	for name := range expected {
		if v, ok := actual[name]; ok {
			out[name] = v
		}
	}
	return out
}

// GenerateReason creates a human-readable explanation of which targets
// matched and the first one that did not.
func GenerateReason(fields []FieldResult) string {
	if len(fields) == 0 {
		return "no restrictions declared"
	}

	var matched []string
	var firstMismatch *FieldResult

	for i := range fields {
		if fields[i].Matched {
			matched = append(matched, fields[i].Field)
		} else if firstMismatch == nil {
			firstMismatch = &fields[i]
		}
	}

	if firstMismatch == nil {
		return "all restrictions matched"
	}

	if len(matched) == 0 {
		return formatMismatch(firstMismatch)
	}

	return joinFields(matched) + " matched, but " + formatMismatch(firstMismatch)
}

func formatMismatch(f *FieldResult) string {
	switch f.Field {
	case "headers":
		return "header mismatch"
	case "searchParams":
		return "search parameter mismatch"
	case "pathParams":
		return "path parameter mismatch"
	case "body":
		return "body mismatch"
	case "bodyJsonPath":
		return "body JSONPath condition not satisfied"
	case "bodySchema":
		return "body does not satisfy schema"
	case "expression":
		return fmt.Sprintf("expression %q was %v", f.Expected, f.Actual)
	case "predicate":
		return fmt.Sprintf("predicate returned %v", f.Actual)
	default:
		return f.Field + " did not match"
	}
}

// joinFields joins field names with commas and "and".
func joinFields(fields []string) string {
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	case 2:
		return fields[0] + " and " + fields[1]
	default:
		return strings.Join(fields[:len(fields)-1], ", ") + ", and " + fields[len(fields)-1]
	}
}
