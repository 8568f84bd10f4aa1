package matching

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/url"
	"reflect"
	"strings"

	"github.com/getmockd/interceptd/pkg/request"
)

// MatchBody compares a declared body against the request body. The declared
// value's Go type selects the comparison:
//
//   - string: text equality, or substring in subset mode
//   - []byte: byte equality, or byte containment
//   - request.Blob: as []byte, and the content type must match when declared
//   - *request.FormData, url.Values: form entry multiset equality, or each
//     declared entry present
//   - anything else: JSON deep equality, or recursive containment
func MatchBody(declared any, req *request.Request, exact bool) bool {
	switch want := declared.(type) {
	case string:
		return MatchText(want, bodyText(req), exact)
	case []byte:
		return MatchBytes(want, req.RawBody, exact)
	case request.Blob:
		return matchBlob(want, req, exact)
	case *request.Blob:
		return want != nil && matchBlob(*want, req, exact)
	case *request.FormData:
		return want != nil && matchFormBody(want, req, exact)
	case url.Values:
		return matchFormBody(request.FormDataFromValues(want), req, exact)
	default:
		return matchJSONBody(declared, req, exact)
	}
}

// MatchText compares text bodies.
func MatchText(want, got string, exact bool) bool {
	if exact {
		return got == want
	}
	return strings.Contains(got, want)
}

// MatchBytes compares binary bodies.
func MatchBytes(want, got []byte, exact bool) bool {
	if exact {
		return bytes.Equal(got, want)
	}
	return bytes.Contains(got, want)
}

func bodyText(req *request.Request) string {
	if b := req.Body(); b.Kind == request.KindText {
		return b.Text
	}
	return string(req.RawBody)
}

func matchBlob(want request.Blob, req *request.Request, exact bool) bool {
	if want.ContentType != "" && !sameMediaType(want.ContentType, req.ContentType) {
		return false
	}
	return MatchBytes(want.Data, req.RawBody, exact)
}

func sameMediaType(a, b string) bool {
	ma, _, errA := mime.ParseMediaType(a)
	mb, _, errB := mime.ParseMediaType(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return ma == mb
}

func matchFormBody(want *request.FormData, req *request.Request, exact bool) bool {
	b := req.Body()
	if b.Kind != request.KindForm || b.Form == nil {
		return false
	}
	return MatchForm(want, b.Form, exact)
}

// MatchForm compares form entries without regard to order. Every declared
// entry must pair with a distinct received entry; in exact mode no received
// entry may be left over.
func MatchForm(want, got *request.FormData, exact bool) bool {
	if exact && len(want.Entries) != len(got.Entries) {
		return false
	}
	used := make([]bool, len(got.Entries))
	for _, w := range want.Entries {
		found := false
		for i, g := range got.Entries {
			if used[i] || !formEntryMatches(w, g, exact) {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return true
}

func formEntryMatches(want, got request.FormEntry, exact bool) bool {
	if want.Name != got.Name {
		return false
	}
	if want.File == nil || got.File == nil {
		return want.File == nil && got.File == nil && want.Value == got.Value
	}
	if !bytes.Equal(want.File.Data, got.File.Data) {
		return false
	}
	if exact {
		return want.File.Filename == got.File.Filename
	}
	if want.File.Filename != "" && want.File.Filename != got.File.Filename {
		return false
	}
	return want.File.ContentType == "" || sameMediaType(want.File.ContentType, got.File.ContentType)
}

func matchJSONBody(declared any, req *request.Request, exact bool) bool {
	b := req.Body()
	if b.Kind != request.KindJSON {
		return false
	}
	want, err := normalizeJSON(declared)
	if err != nil {
		return false
	}
	if exact {
		return reflect.DeepEqual(want, b.JSON)
	}
	return ContainsJSON(want, b.JSON)
}

// normalizeJSON round-trips v through encoding/json so that it can be compared
// with a decoded request body.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContainsJSON reports whether got contains want. Objects match when every
// declared key is contained; arrays match when every declared item is
// contained by some received item. Scalars must be equal.
func ContainsJSON(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !ContainsJSON(wv, gv) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, gv := range g {
				if ContainsJSON(wv, gv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return valuesEqual(got, want)
	}
}
