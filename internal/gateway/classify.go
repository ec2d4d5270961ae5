package gateway

import (
	"bytes"
	"net/http"
	"strings"
	"tether/internal/types"

	"github.com/goccy/go-json"
)

const defaultErrorMessage = "An error occurred"

// classify turns a non-2xx response into an APIError. The human message is
// taken from, in order: "detail", "message", "non_field_errors"[0], the first
// field's first error, the raw body when it is not JSON.
func classify(resp *Response) *types.APIError {
	e := &types.APIError{
		Kind:       types.KindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}
	if e.Kind == types.KindUnknown {
		// 1xx/3xx that the client did not follow
		e.Kind = types.KindServer
	}

	raw := bytes.TrimSpace(resp.Body)
	var obj map[string]any
	if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &obj) == nil {
		e.Fields = obj
		if errs, ok := obj["errors"].(map[string]any); ok {
			e.Fields = errs
		}
		e.Message = messageFrom(raw, obj)
	} else if len(raw) > 0 && raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			e.Message = s
		}
	} else if len(raw) > 0 && len(raw) < 512 {
		e.Message = string(raw)
	}
	if e.Message == "" {
		if t := http.StatusText(resp.StatusCode); t != "" {
			e.Message = t
		} else {
			e.Message = defaultErrorMessage
		}
	}
	return e
}

func messageFrom(raw []byte, obj map[string]any) string {
	if s, ok := obj["detail"].(string); ok && s != "" {
		return s
	}
	if s, ok := obj["message"].(string); ok && s != "" {
		return s
	}
	if nfe, ok := obj["non_field_errors"].([]any); ok && len(nfe) > 0 {
		if s, ok := nfe[0].(string); ok {
			return s
		}
	}
	key := firstKey(raw)
	if key == "" {
		return ""
	}
	switch v := obj[key].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// firstKey returns the first top-level key of a JSON object as it appears in
// the document; map iteration order would lose it.
func firstKey(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ""
	}
	tok, err = dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return strings.TrimSpace(key)
}
