package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when the service answered with no text.
// It is retried like a transport failure.
var ErrEmptyResponse = errors.New("empty response from inference service")

// TransportError is a network or HTTP level failure talking to a backend.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// JSONParseError means the call succeeded but no JSON object could be
// extracted from the response. It is never retried.
type JSONParseError struct {
	Raw string
	Err error
}

func (e *JSONParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("failed to parse response JSON: %v (response: %s)", e.Err, raw)
}

func (e *JSONParseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should trigger another attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
