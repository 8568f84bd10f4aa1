package matching

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Cardinality describes how many path characters a parameter may consume.
type Cardinality int

const (
	// Required matches one or more characters within a single segment.
	Required Cardinality = iota
	// Optional matches zero or more characters within a single segment.
	Optional
	// RequiredRepeating matches one or more characters, spanning segments.
	RequiredRepeating
	// OptionalRepeating matches zero or more characters, spanning segments.
	OptionalRepeating
)

// String returns the pattern suffix for the cardinality.
func (c Cardinality) String() string {
	switch c {
	case Optional:
		return "?"
	case RequiredRepeating:
		return "+"
	case OptionalRepeating:
		return "*"
	default:
		return ""
	}
}

// Param is a named parameter declared in a path pattern.
type Param struct {
	Name        string
	Cardinality Cardinality
}

// DuplicateParamError is returned by Compile when a parameter name is
// declared more than once.
type DuplicateParamError struct {
	Name    string
	Pattern string
}

func (e *DuplicateParamError) Error() string {
	return fmt.Sprintf("duplicate path parameter %q in pattern %q", e.Name, e.Pattern)
}

// Pattern is a compiled path pattern.
type Pattern struct {
	raw    string
	re     *regexp.Regexp
	params []Param
}

// token is one piece of a pattern segment: either literal text or a parameter.
type token struct {
	literal string
	param   *Param
}

// Compile parses a path pattern such as "/users/:id/files/:path+".
//
// Segments may combine literal text with ":name" tokens. A token may be
// suffixed with "?" (optional), "+" (one or more, spanning segments) or
// "*" (zero or more, spanning segments). "\:" is a literal colon. Leading,
// trailing and repeated slashes are not significant.
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{raw: pattern}
	seen := make(map[string]bool)

	var b strings.Builder
	b.WriteByte('^')
	for _, segment := range splitSegments(pattern) {
		tokens := tokenize(segment)
		for _, t := range tokens {
			if t.param == nil {
				continue
			}
			if seen[t.param.Name] {
				return nil, &DuplicateParamError{Name: t.param.Name, Pattern: pattern}
			}
			seen[t.param.Name] = true
			p.params = append(p.params, *t.param)
		}

		if len(tokens) == 1 && tokens[0].param != nil {
			b.WriteString(wholeSegmentExpr(tokens[0].param.Cardinality))
			continue
		}
		b.WriteByte('/')
		for _, t := range tokens {
			if t.param == nil {
				b.WriteString(regexp.QuoteMeta(t.literal))
				continue
			}
			b.WriteString(inSegmentExpr(t.param.Cardinality))
		}
	}
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling path pattern %q: %w", pattern, err)
	}
	p.re = re
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p *Pattern) String() string { return p.raw }

// Params returns the declared parameters in order of appearance.
func (p *Pattern) Params() []Param {
	out := make([]Param, len(p.params))
	copy(out, p.params)
	return out
}

// Match reports whether the escaped URL path matches the pattern and returns
// the extracted parameters. Each segment is percent-decoded before
// comparison, so an encoded "/" stays inside its segment. Optional
// parameters that matched nothing are left out of the result.
func (p *Pattern) Match(escapedPath string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(normalizePath(escapedPath))
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(p.params))
	for i, param := range p.params {
		if v := m[i+1]; v != "" {
			params[param.Name] = unescapeSegment(v)
		}
	}
	return params, true
}

// Expression returns the compiled regular expression, for diagnostics.
func (p *Pattern) Expression() string { return p.re.String() }

// segmentEscaper re-encodes a decoded segment so that only literal "/"
// separates segments. Every other decoded byte is compared as is.
var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

var segmentUnescaper = strings.NewReplacer("%2F", "/", "%25", "%")

// normalizePath collapses slashes and decodes each segment into its
// canonical form. The root path normalizes to "".
func normalizePath(path string) string {
	segments := splitSegments(path)
	if len(segments) == 0 {
		return ""
	}
	for i, segment := range segments {
		segments[i] = canonicalSegment(segment)
	}
	return "/" + strings.Join(segments, "/")
}

// canonicalSegment percent-decodes an escaped segment, leaving it untouched
// when the escape is malformed.
func canonicalSegment(escaped string) string {
	if decoded, err := url.PathUnescape(escaped); err == nil {
		return segmentEscaper.Replace(decoded)
	}
	return segmentEscaper.Replace(escaped)
}

func unescapeSegment(canonical string) string {
	return segmentUnescaper.Replace(canonical)
}

func splitSegments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// tokenize splits one pattern segment into literals and parameters.
func tokenize(segment string) []token {
	var tokens []token
	var lit strings.Builder

	flush := func() {
		if lit.Len() == 0 {
			return
		}
		tokens = append(tokens, token{literal: canonicalSegment(lit.String())})
		lit.Reset()
	}

	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c == '\\' && i+1 < len(segment) && segment[i+1] == ':' {
			lit.WriteByte(':')
			i++
			continue
		}
		if c != ':' {
			lit.WriteByte(c)
			continue
		}

		end := i + 1
		for end < len(segment) && isNameByte(segment[end], end == i+1) {
			end++
		}
		if end == i+1 {
			// ":" not followed by a name is literal text.
			lit.WriteByte(c)
			continue
		}

		flush()
		param := &Param{Name: segment[i+1 : end]}
		if end < len(segment) {
			switch segment[end] {
			case '?':
				param.Cardinality = Optional
				end++
			case '+':
				param.Cardinality = RequiredRepeating
				end++
			case '*':
				param.Cardinality = OptionalRepeating
				end++
			}
		}
		tokens = append(tokens, token{param: param})
		i = end - 1
	}
	flush()
	return tokens
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c == '_' || c == '$':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

// wholeSegmentExpr is used when a parameter is the only thing in its
// segment, so the separator itself becomes optional with the parameter.
func wholeSegmentExpr(c Cardinality) string {
	switch c {
	case Optional:
		return `(?:/([^/]+?))?`
	case RequiredRepeating:
		return `/(.+)`
	case OptionalRepeating:
		return `(?:/(.+))?`
	default:
		return `/([^/]+?)`
	}
}

func inSegmentExpr(c Cardinality) string {
	switch c {
	case Optional:
		return `([^/]*?)`
	case RequiredRepeating:
		return `(.+)`
	case OptionalRepeating:
		return `(.*)`
	default:
		return `([^/]+?)`
	}
}
