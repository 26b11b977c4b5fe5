package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"livespese/internal/core"
)

// maxFormBytes bounds the body of every intent post.
const maxFormBytes = 16 << 10

// Form field names of the add form.
const (
	formName  = "name"
	formPrice = "price"
)

var errBodyTooLarge = errors.New("request body too large")

// IsHTMX reports whether the request was issued by htmx.
func IsHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// ParseDraft reads the draft fields from a form-encoded or JSON body. Values
// are kept as typed, minus control characters; trimming happens on add.
// present is false when the body carried neither field.
func ParseDraft(w http.ResponseWriter, r *http.Request) (draft core.Draft, present bool, err error) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		return core.Draft{}, false, err
	}
	name, hasName := p.Lookup(formName)
	price, hasPrice := p.Lookup(formPrice)
	return core.Draft{Name: name, Price: price}, hasName || hasPrice, nil
}

// RequestBodyParser reads a body once and parses it as JSON or form data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads at most maxFormBytes of r's body.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
	var maxErr *http.MaxBytesError
	if errors.As(p.err, &maxErr) {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.IsJSONContent() {
		p.jsonData = make(map[string]any)
		dec := json.NewDecoder(bytes.NewReader(p.body))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// IsJSONContent reports whether the body should be decoded as JSON.
func (p *RequestBodyParser) IsJSONContent() bool {
	if strings.HasPrefix(strings.ToLower(p.contentType), "application/json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(p.body), []byte("{"))
}

// Lookup returns the value for key and whether the body carried it.
func (p *RequestBodyParser) Lookup(key string) (string, bool) {
	if p.jsonData != nil {
		val, ok := p.jsonData[key]
		if !ok {
			return "", false
		}
		return stripControlChars(stringValue(val)), true
	}
	if p.formData != nil {
		if vals, ok := p.formData[key]; ok && len(vals) > 0 {
			return stripControlChars(vals[0]), true
		}
	}
	return "", false
}

// Get returns the value for key, or "" when absent.
func (p *RequestBodyParser) Get(key string) string {
	v, _ := p.Lookup(key)
	return v
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
