package apierror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type violationBody struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// Normalize maps a non-2xx response into an *Error. It never panics: a missing
// or unparsable body falls back to the HTTP status text.
func Normalize(status int, body []byte) *Error {
	kind := KindServer
	if status == http.StatusUnauthorized {
		kind = KindUnauthorized
	}
	e := &Error{Kind: kind, Status: status, Message: statusText(status)}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return e
	}
	detail := bytes.TrimSpace(parsed.Detail)
	if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
		return e
	}

	switch detail[0] {
	case '"':
		var s string
		if err := json.Unmarshal(detail, &s); err == nil {
			e.Message = s
			return e
		}
	case '[':
		var items []violationBody
		if err := json.Unmarshal(detail, &items); err == nil && len(items) > 0 {
			e.Violations = make([]Violation, 0, len(items))
			lines := make([]string, 0, len(items))
			for _, item := range items {
				v := Violation{Location: locationPath(item.Loc), Message: item.Msg}
				e.Violations = append(e.Violations, v)
				lines = append(lines, v.String())
			}
			e.Message = strings.Join(lines, "\n")
			if kind != KindUnauthorized {
				e.Kind = KindValidation
			}
			return e
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, detail); err != nil {
		return e
	}
	e.Message = compact.String()
	return e
}

// locationPath renders path segments; numeric indices are printed without
// a fractional part.
func locationPath(loc []any) []string {
	out := make([]string, 0, len(loc))
	for _, seg := range loc {
		switch v := seg.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, fmt.Sprintf("%g", v))
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
