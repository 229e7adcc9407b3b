package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is a backend identifier. The backend is inconsistent about sending ids as numbers or
// strings, so both decode into the same string form.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Empty reports whether the id is unset.
func (id ID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// Flag decodes booleans the backend sometimes sends as strings or 0/1.
type Flag bool

// UnmarshalJSON accepts true/false, "true"/"false" and 0/1.
func (f *Flag) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*f = false
		return nil
	}
	text := strings.Trim(string(raw), `"`)
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(text)))
	if err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

// Page is the paginated {count, next, previous, results} shape.
type Page[T any] struct {
	Count    int
	Next     string
	Previous string
	Results  []T
}

// HasNext reports whether another page exists.
func (p Page[T]) HasNext() bool { return p.Next != "" }

func decodePage[T any](env Envelope) (Page[T], error) {
	var page Page[T]
	if err := env.Decode(&page.Results); err != nil {
		return Page[T]{}, err
	}
	if env.Count != nil {
		page.Count = *env.Count
	} else {
		page.Count = len(page.Results)
	}
	if env.Next != nil {
		page.Next = *env.Next
	}
	if env.Previous != nil {
		page.Previous = *env.Previous
	}
	return page, nil
}

func decodeInto(endpoint string, env Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return &Error{Kind: KindDecode, Endpoint: endpoint, Message: "The store sent an unexpected response.", Err: err}
	}
	return nil
}
