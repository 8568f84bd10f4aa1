package request

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// File is an uploaded multipart file.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// FormEntry is one name/value pair of a form body. File is set for file
// uploads, in which case Value is empty.
type FormEntry struct {
	Name  string
	Value string
	File  *File
}

// FormData is an ordered list of form entries. Names may repeat.
type FormData struct {
	Entries []FormEntry
}

// NewFormData returns an empty form.
func NewFormData() *FormData {
	return &FormData{}
}

// FormDataFromValues converts url.Values. Keys are emitted in sorted order.
func FormDataFromValues(values url.Values) *FormData {
	form := &FormData{}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		for _, v := range values[key] {
			form.Add(key, v)
		}
	}
	return form
}

// Add appends a field.
func (f *FormData) Add(name, value string) *FormData {
	f.Entries = append(f.Entries, FormEntry{Name: name, Value: value})
	return f
}

// AddFile appends a file upload.
func (f *FormData) AddFile(name, filename, contentType string, data []byte) *FormData {
	f.Entries = append(f.Entries, FormEntry{
		Name: name,
		File: &File{Filename: filename, ContentType: contentType, Data: data},
	})
	return f
}

// Get returns every entry named name, in order.
func (f *FormData) Get(name string) []FormEntry {
	if f == nil {
		return nil
	}
	var out []FormEntry
	for _, e := range f.Entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the distinct entry names in first-seen order.
func (f *FormData) Names() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool, len(f.Entries))
	var out []string
	for _, e := range f.Entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			out = append(out, e.Name)
		}
	}
	return out
}

// String renders the form as name=value pairs; files render as a summary.
func (f *FormData) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.File != nil {
			parts = append(parts, fmt.Sprintf("%s=<file %q, %d bytes>", e.Name, e.File.Filename, len(e.File.Data)))
			continue
		}
		parts = append(parts, e.Name+"="+e.Value)
	}
	return strings.Join(parts, "&")
}

// parseQueryOrdered keeps the wire order of a urlencoded body, which
// url.Values loses. values is the already-validated parse of raw.
func parseQueryOrdered(raw string, values url.Values) *FormData {
	form := &FormData{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return FormDataFromValues(values)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return FormDataFromValues(values)
		}
		form.Add(k, v)
	}
	return form
}
