package matching

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/interceptd/pkg/request"
)

func newJSONRequest(t *testing.T, rawURL, body string) *request.Request {
	t.Helper()
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	req, err := request.New(http.MethodPost, rawURL, header, []byte(body))
	require.NoError(t, err)
	return req
}

// --- MatchBreakdown Tests ---

func TestMatchBreakdown_NoRestrictions(t *testing.T) {
	nm := MatchBreakdown(t.Context(), nil, newJSONRequest(t, "http://localhost/users", `{}`))
	assert.Empty(t, nm.Fields)
	assert.Equal(t, 0, nm.MaxPossibleScore)
	assert.Equal(t, "no restrictions declared", nm.Reason)
}

func TestMatchBreakdown_AllFieldsMatch(t *testing.T) {
	req := newJSONRequest(t, "http://localhost/users?page=1", `{"name":"Ada"}`)
	nm := MatchBreakdown(t.Context(), []Restriction{{
		Headers:      map[string]string{"Content-Type": "application/json"},
		SearchParams: map[string][]string{"page": {"1"}},
		Body:         map[string]any{"name": "Ada"},
	}}, req)

	require.Len(t, nm.Fields, 3)
	assert.Equal(t, ScoreHeaders+ScoreSearchParams+ScoreBody, nm.Score)
	assert.Equal(t, 100, nm.MatchPercentage)
	assert.Equal(t, "all restrictions matched", nm.Reason)
}

func TestMatchBreakdown_DoesNotShortCircuit(t *testing.T) {
	req := newJSONRequest(t, "http://localhost/users?page=2", `{"name":"Ada"}`)
	nm := MatchBreakdown(t.Context(), []Restriction{
		{SearchParams: map[string][]string{"page": {"1"}}},
		{Body: map[string]any{"name": "Ada"}},
	}, req)

	require.Len(t, nm.Fields, 2)
	assert.False(t, nm.Fields[0].Matched)
	assert.True(t, nm.Fields[1].Matched)
	assert.Equal(t, ScoreBody, nm.Score)
	assert.Equal(t, "body matched, but search parameter mismatch", nm.Reason)
}

func TestMatchBreakdown_PredicateError(t *testing.T) {
	req := newJSONRequest(t, "http://localhost/users", `{}`)
	nm := MatchBreakdown(t.Context(), []Restriction{{
		Predicate: func(context.Context, *request.Request) (bool, error) {
			return false, errors.New("lookup failed")
		},
	}}, req)

	require.Len(t, nm.Fields, 1)
	assert.Equal(t, "error: lookup failed", nm.Fields[0].Actual)
	assert.Equal(t, "predicate returned error: lookup failed", nm.Reason)
}

func TestClosest(t *testing.T) {
	restrictions := []Restriction{
		{Headers: map[string]string{"Content-Type": "application/json"}},
		{Body: map[string]any{"name": "Ada", "role": "admin"}, Exact: true},
	}
	far, err := request.New(http.MethodPost, "http://localhost/users", nil, []byte("plain"))
	require.NoError(t, err)
	near := newJSONRequest(t, "http://localhost/users", `{"name":"Ada","role":"guest"}`)

	best, nm := Closest(t.Context(), restrictions, []*request.Request{far, near})
	assert.Same(t, near, best)
	assert.Equal(t, ScoreHeaders, nm.Score)

	best, nm = Closest(t.Context(), restrictions, nil)
	assert.Nil(t, best)
	assert.Nil(t, nm)
}

// --- GenerateReason Tests ---

func TestGenerateReason_MultipleMatched(t *testing.T) {
	fields := []FieldResult{
		{Field: "headers", Matched: true},
		{Field: "searchParams", Matched: true},
		{Field: "pathParams", Matched: true},
		{Field: "body", Matched: false},
	}
	assert.Equal(t, "headers, searchParams, and pathParams matched, but body mismatch", GenerateReason(fields))
}

func TestGenerateReason_Expression(t *testing.T) {
	fields := []FieldResult{{Field: "expression", Expected: `method == "GET"`, Actual: "false"}}
	assert.Equal(t, `expression "method == \"GET\"" was false`, GenerateReason(fields))
}

func TestJoinFields(t *testing.T) {
	assert.Equal(t, "", joinFields(nil))
	assert.Equal(t, "a", joinFields([]string{"a"}))
	assert.Equal(t, "a and b", joinFields([]string{"a", "b"}))
	assert.Equal(t, "a, b, and c", joinFields([]string{"a", "b", "c"}))
}

// --- Diff Tests ---

func TestDiff(t *testing.T) {
	req := newJSONRequest(t, "http://localhost/users?page=2", `{"name":"Ada"}`)
	nm := MatchBreakdown(t.Context(), []Restriction{{
		SearchParams: map[string][]string{"page": {"1"}},
		Body:         map[string]any{"name": "Ada"},
	}}, req)

	diff := Diff(nm)
	assert.True(t, strings.HasPrefix(diff, "--- declared\n+++ received\n"), diff)
	assert.Contains(t, diff, "-  page=1\n")
	assert.Contains(t, diff, "+  page=2\n")
	assert.Contains(t, diff, `   "name": "Ada"`)
}

func TestDiff_Empty(t *testing.T) {
	assert.Equal(t, "", Diff(nil))
	assert.Equal(t, "", Diff(&NearMiss{}))
}
