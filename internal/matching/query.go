package matching

import (
	"net/url"
	"slices"
)

// MatchSearchParam checks that a parameter carries exactly the expected
// values, in order.
func MatchSearchParam(name string, expected []string, params url.Values) bool {
	actual, ok := params[name]
	return ok && slices.Equal(actual, expected)
}

// MatchSearchParams checks the declared search parameters. In exact mode the
// request must carry no other parameters.
func MatchSearchParams(expected, params url.Values, exact bool) bool {
	for name, values := range expected {
		if !MatchSearchParam(name, values, params) {
			return false
		}
	}
	if !exact {
		return true
	}
	for name := range params {
		if _, ok := expected[name]; !ok {
			return false
		}
	}
	return true
}
