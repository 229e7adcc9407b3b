package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// Envelope is the union of the response shapes the backend uses:
// {status, data, message}, {success, message} and {count, next, previous, results}.
// Each endpoint picks one; callers decode whichever is present.
type Envelope struct {
	Status   *bool           `json:"status"`
	Success  *bool           `json:"success"`
	Message  json.RawMessage `json:"message"`
	Data     json.RawMessage `json:"data"`
	Count    *int            `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  json.RawMessage `json:"results"`

	raw json.RawMessage
}

func parseEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{}, nil
	}
	env := Envelope{raw: append(json.RawMessage(nil), raw...)}
	if raw[0] != '{' {
		// Bare arrays or scalars: treat the whole body as data.
		env.Data = env.raw
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	env.raw = append(json.RawMessage(nil), raw...)
	return env, nil
}

// OK reports false only when the backend explicitly flagged a soft failure.
func (e Envelope) OK() bool {
	if e.Status != nil && !*e.Status {
		return false
	}
	if e.Success != nil && !*e.Success {
		return false
	}
	return true
}

// Paginated reports whether the response used the paginated shape.
func (e Envelope) Paginated() bool {
	return e.Count != nil || len(e.Results) > 0
}

// Raw returns the undecoded response body.
func (e Envelope) Raw() json.RawMessage { return e.raw }

// MessageText flattens the message field. The backend sends plain strings, validation maps
// ({"field": ["msg"]}) or lists; the first human-readable string wins.
func (e Envelope) MessageText() string {
	if msg := firstString(e.Message); msg != "" {
		return msg
	}
	if len(e.raw) == 0 {
		return ""
	}
	var probe struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(e.raw, &probe); err != nil {
		return ""
	}
	for _, candidate := range []json.RawMessage{probe.Detail, probe.Error, probe.Errors} {
		if msg := firstString(candidate); msg != "" {
			return msg
		}
	}
	return ""
}

// errorText is MessageText widened to field-keyed validation bodies, which only make sense
// on error responses.
func (e Envelope) errorText() string {
	if msg := e.MessageText(); msg != "" {
		return msg
	}
	if len(e.raw) > 0 && e.raw[0] == '{' {
		return firstString(e.raw)
	}
	return ""
}

// Decode unmarshals data, then results, then the whole body into v.
func (e Envelope) Decode(v any) error {
	for _, candidate := range []json.RawMessage{e.Data, e.Results, e.raw} {
		if isEmptyJSON(candidate) {
			continue
		}
		return json.Unmarshal(candidate, v)
	}
	return errors.New("backend: empty response")
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func firstString(raw json.RawMessage) string {
	if isEmptyJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if msg := firstString(item); msg != "" {
				return msg
			}
		}
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if msg := firstString(obj[k]); msg != "" {
				if k == "non_field_errors" || k == "detail" || k == "message" {
					return msg
				}
				return k + ": " + msg
			}
		}
	}
	return ""
}
