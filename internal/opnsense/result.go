package opnsense

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Result is a successful API answer. JSON is set when the body decoded as
// JSON, Text otherwise. An empty body leaves both zero.
type Result struct {
	StatusCode int
	Body       []byte
	JSON       any
	Text       string
}

func newResult(status int, body []byte) *Result {
	r := &Result{StatusCode: status, Body: body}
	if len(bytes.TrimSpace(body)) == 0 {
		return r
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		r.JSON = v
		return r
	}
	r.Text = string(body)
	return r
}

// Empty reports whether the appliance returned no body at all.
func (r *Result) Empty() bool {
	return r == nil || len(bytes.TrimSpace(r.Body)) == 0
}

// Truthy reports whether the result carries anything meaningful: a
// non-empty object or array, true, a non-zero number or non-empty text.
// An empty object counts as not acknowledged.
func (r *Result) Truthy() bool {
	if r == nil {
		return false
	}
	if r.JSON == nil {
		return r.Text != ""
	}
	switch v := r.JSON.(type) {
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	}
	return true
}

// Field returns a top-level string field of a JSON object result.
func (r *Result) Field(key string) string {
	if r == nil {
		return ""
	}
	m, ok := r.JSON.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Decode unmarshals the raw body into v.
func (r *Result) Decode(v any) error {
	if r.Empty() {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// Pretty renders the result for display: indented JSON or the raw text.
func (r *Result) Pretty() string {
	if r == nil || r.Empty() {
		return "{}"
	}
	if r.JSON == nil {
		return r.Text
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.Body, "", "  "); err != nil {
		return string(r.Body)
	}
	return buf.String()
}
