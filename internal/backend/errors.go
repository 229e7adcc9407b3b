package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies backend failures.
type Kind string

const (
	// KindNetwork covers transport failures and interrupted bodies.
	KindNetwork Kind = "network"
	// KindHTTP is a 4xx/5xx response.
	KindHTTP Kind = "http"
	// KindSoft is a 2xx response whose status/success flag is false.
	KindSoft Kind = "soft"
	// KindDecode is a 2xx response that could not be parsed.
	KindDecode Kind = "decode"
	// KindRequest is a request that could not be built.
	KindRequest Kind = "request"
)

// Error is returned for every failed backend call. Message is safe to show to shoppers.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s %s (%d): %s", e.Kind, e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s %s: %s", e.Kind, e.Endpoint, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage extracts the shopper-facing text from err, or fallback when err is not a
// backend error.
func UserMessage(err error, fallback string) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return fallback
}

// IsUnauthorized reports whether the backend rejected the bearer token.
func IsUnauthorized(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindHTTP && be.Status == http.StatusUnauthorized
}

// IsNotFound reports a 404 from the backend.
func IsNotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindHTTP && be.Status == http.StatusNotFound
}
