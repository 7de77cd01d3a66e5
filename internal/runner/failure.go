package runner

import (
	"errors"
	"fmt"
)

// FailureKind categorizes why a subprocess did not produce a usable result.
type FailureKind string

// FailureKind values.
const (
	FailureTimeout      FailureKind = "TIMEOUT"
	FailureProcess      FailureKind = "PROCESS_ERROR"
	FailureSpawn        FailureKind = "SPAWN_ERROR"
	FailureOutputFormat FailureKind = "OUTPUT_FORMAT_ERROR"
)

// Failure describes a failed subprocess invocation.
type Failure struct {
	Kind     FailureKind
	Command  string
	ExitCode int
	Detail   string // captured diagnostic stream or parse error
	Err      error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureTimeout:
		return fmt.Sprintf("%s: %s timed out", f.Kind, f.Command)
	case FailureProcess:
		return fmt.Sprintf("%s: %s exited with code %d: %s", f.Kind, f.Command, f.ExitCode, f.Detail)
	default:
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Command, f.Detail)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the FailureKind carried by err, or "" when err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
