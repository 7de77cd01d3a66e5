package classifier

import (
	"errors"
	"fmt"
)

// Kind categorizes a classification failure.
type Kind string

// Kind values.
const (
	KindRead         Kind = "READ_ERROR"
	KindTransport    Kind = "TRANSPORT_ERROR"
	KindTimeout      Kind = "TIMEOUT"
	KindHTTPStatus   Kind = "HTTP_ERROR"
	KindMalformed    Kind = "MALFORMED_RESPONSE"
	KindMissingLabel Kind = "MISSING_LABEL"
	KindUnavailable  Kind = "UNAVAILABLE"
)

// Error is returned for every classification that did not yield a verdict.
type Error struct {
	Kind       Kind
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// retryable reports whether the failure says something about the health of
// the remote service. Only these trip the circuit breaker.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	}
	return false
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
