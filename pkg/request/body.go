package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Kind identifies how a body was parsed.
type Kind int

// Body kinds.
const (
	KindNull Kind = iota
	KindJSON
	KindText
	KindForm
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindText:
		return "text"
	case KindForm:
		return "form"
	case KindBinary:
		return "binary"
	default:
		return "null"
	}
}

// Body is a parsed request body. Exactly one value field is set, matching Kind.
type Body struct {
	Kind Kind

	// JSON holds the decoded value (map[string]any, []any, string, float64,
	// bool or nil) for KindJSON.
	JSON any

	// Text holds the charset-decoded text for KindText.
	Text string

	// Form holds the entries for KindForm.
	Form *FormData

	// Binary holds the raw bytes for KindBinary.
	Binary []byte
}

// Value returns the parsed value as a plain Go value.
func (b Body) Value() any {
	switch b.Kind {
	case KindJSON:
		return b.JSON
	case KindText:
		return b.Text
	case KindForm:
		return b.Form
	case KindBinary:
		return b.Binary
	default:
		return nil
	}
}

// String renders the body as text. JSON is re-encoded compactly.
func (b Body) String() string {
	switch b.Kind {
	case KindJSON:
		data, err := json.Marshal(b.JSON)
		if err != nil {
			return ""
		}
		return string(data)
	case KindText:
		return b.Text
	case KindForm:
		return b.Form.String()
	case KindBinary:
		return string(b.Binary)
	default:
		return ""
	}
}

// Blob is a binary body declaration carrying its content type.
type Blob struct {
	Data        []byte
	ContentType string
}

// classification of a media type before parsing.
type class int

const (
	classUnknown class = iota
	classJSON
	classText
	classForm
	classMultipart
	classBinary
)

func classify(mediaType string) class {
	switch {
	case mediaType == "":
		return classUnknown
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return classJSON
	case mediaType == "application/x-www-form-urlencoded":
		return classForm
	case mediaType == "multipart/form-data":
		return classMultipart
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/xml",
		strings.HasSuffix(mediaType, "+xml"),
		mediaType == "application/javascript",
		mediaType == "application/ecmascript":
		return classText
	default:
		return classBinary
	}
}

func parseBody(raw []byte, contentType string, log *slog.Logger) Body {
	if len(raw) == 0 {
		return Body{Kind: KindNull}
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "", nil
	}

	switch classify(mediaType) {
	case classJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Warn("failed to parse request body as JSON", "contentType", contentType, "error", err)
			return Body{Kind: KindNull}
		}
		return Body{Kind: KindJSON, JSON: v}

	case classUnknown:
		var v any
		if json.Valid(raw) && json.Unmarshal(raw, &v) == nil {
			return Body{Kind: KindJSON, JSON: v}
		}
		return Body{Kind: KindText, Text: string(raw)}

	case classText:
		return Body{Kind: KindText, Text: decodeCharset(raw, params["charset"], log)}

	case classForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			log.Warn("failed to parse request body as form", "contentType", contentType, "error", err)
			return Body{Kind: KindNull}
		}
		return Body{Kind: KindForm, Form: parseQueryOrdered(string(raw), values)}

	case classMultipart:
		form, err := parseMultipart(raw, params["boundary"])
		if err != nil {
			log.Warn("failed to parse request body as multipart form", "contentType", contentType, "error", err)
			return Body{Kind: KindNull}
		}
		return Body{Kind: KindForm, Form: form}

	default:
		return Body{Kind: KindBinary, Binary: raw}
	}
}

func decodeCharset(raw []byte, charset string, log *slog.Logger) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		log.Debug("unknown body charset, using raw bytes", "charset", charset)
		return string(raw)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		log.Warn("failed to decode request body charset", "charset", charset, "error", err)
		return string(raw)
	}
	return string(decoded)
}

func parseMultipart(raw []byte, boundary string) (*FormData, error) {
	if boundary == "" {
		return nil, errors.New("missing multipart boundary")
	}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	form := &FormData{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			form.AddFile(part.FormName(), part.FileName(), part.Header.Get("Content-Type"), data)
		} else {
			form.Add(part.FormName(), string(data))
		}
	}
}
