package matching

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/getmockd/interceptd/pkg/request"
)

// Diff renders a unified diff between the declared restriction values and
// the values the request carried, one section per target.
func Diff(nm *NearMiss) string {
	if nm == nil || len(nm.Fields) == 0 {
		return ""
	}
	var declared, received strings.Builder
	for _, f := range nm.Fields {
		declared.WriteString(f.Field + ":\n")
		declared.WriteString(indent(renderValue(f.Expected)))
		received.WriteString(f.Field + ":\n")
		received.WriteString(indent(renderValue(f.Actual)))
	}

	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(declared.String()),
		B:        difflib.SplitLines(received.String()),
		FromFile: "declared",
		ToFile:   "received",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return fmt.Sprintf("%q", x)
	case request.Blob:
		return fmt.Sprintf("%s %q", x.ContentType, x.Data)
	case *request.Blob:
		return fmt.Sprintf("%s %q", x.ContentType, x.Data)
	case *request.FormData:
		return x.String()
	case url.Values:
		return x.Encode()
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
