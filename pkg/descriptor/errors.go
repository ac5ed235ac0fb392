// Package descriptor implements the versioned-artifact resolution protocol:
// location specifiers, version matching, and the transport backends that
// materialize artifacts into a shared bundle cache.
package descriptor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a descriptor error for callers that need to
// distinguish expected failure modes from hard faults.
type ErrorKind string

const (
	// ErrorKindSpec indicates a malformed location specifier: missing
	// required keys, an unparseable URI, or an invalid constraint pattern.
	// Raised at construction or parse time, never retried.
	ErrorKindSpec ErrorKind = "spec"

	// ErrorKindResolution indicates that no matching candidate or version
	// was found where one was required.
	ErrorKindResolution ErrorKind = "resolution"

	// ErrorKindIO indicates a transport failure: network, clone, or copy
	// failure while downloading an artifact.
	ErrorKindIO ErrorKind = "io"

	// ErrorKindFilesystem indicates a failed filesystem transaction during
	// a configuration update (backup, swap, restore).
	ErrorKindFilesystem ErrorKind = "filesystem"

	// ErrorKindStale indicates local metadata inconsistent with the
	// authoritative record store.
	ErrorKindStale ErrorKind = "stale"
)

// Error is the classified error type used throughout the descriptor and
// bootstrap packages.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// Descriptor is the string form of the location specifier that was
	// being resolved when the error occurred, if known.
	Descriptor string

	// Op is the operation being performed (e.g. "download", "latest").
	Op string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	if e.Descriptor != "" && e.Op != "" {
		return fmt.Sprintf("[%s] %s (descriptor=%s, op=%s)", e.Kind, msg, e.Descriptor, e.Op)
	}
	if e.Descriptor != "" {
		return fmt.Sprintf("[%s] %s (descriptor=%s)", e.Kind, msg, e.Descriptor)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDescriptor attaches the specifier string for context.
func (e *Error) WithDescriptor(desc string) *Error {
	e.Descriptor = desc
	return e
}

// WithOp attaches the failing operation name.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// NewSpecError creates a malformed-specifier error.
func NewSpecError(message string, err error) *Error {
	return &Error{Kind: ErrorKindSpec, Message: message, Err: err}
}

// NewResolutionError creates a resolution error.
func NewResolutionError(message string, err error) *Error {
	return &Error{Kind: ErrorKindResolution, Message: message, Err: err}
}

// NewIOError creates a transport I/O error.
func NewIOError(message string, err error) *Error {
	return &Error{Kind: ErrorKindIO, Message: message, Err: err}
}

// NewFilesystemError creates a filesystem transaction error.
func NewFilesystemError(message string, err error) *Error {
	return &Error{Kind: ErrorKindFilesystem, Message: message, Err: err}
}

// NewStaleError creates a stale-data error.
func NewStaleError(message string, err error) *Error {
	return &Error{Kind: ErrorKindStale, Message: message, Err: err}
}

// IsKind reports whether err (or any error in its chain) is a descriptor
// Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind == kind
	}
	return false
}
