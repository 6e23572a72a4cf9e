package kdu

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the ways a compression job can fail.
type ErrorKind int

const (
	// KindConfiguration means the bridge itself is unusable, typically
	// because the engine home was never configured. Raised before any job.
	KindConfiguration ErrorKind = iota + 1

	// KindInputFormat means the input was not a recognised or convertible
	// image. No output is produced.
	KindInputFormat

	// KindLaunch means the engine could not be started at all (missing or
	// unspawnable executable, bad working directory).
	KindLaunch

	// KindExecution means the engine ran but reported a failure, either as
	// diagnostic text on stderr or by leaving no usable output.
	KindExecution

	// KindInterrupted means the job's context ended while the engine was
	// running. The engine was killed; any output sink may hold partial data.
	KindInterrupted

	// KindParameters means the encode parameters were rejected before any
	// temp file was created or engine launched.
	KindParameters
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInputFormat:
		return "input-format"
	case KindLaunch:
		return "launch"
	case KindExecution:
		return "execution"
	case KindInterrupted:
		return "interrupted"
	case KindParameters:
		return "parameters"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether repeating the same job could succeed.
// Only an interrupted job can; a missing executable or an engine
// diagnostic will simply repeat.
func (k ErrorKind) IsRetryable() bool {
	return k == KindInterrupted
}

var (
	// ErrEngineHomeUnset is returned when no engine home directory was configured.
	ErrEngineHomeUnset = errors.New("kakadu home is not defined")

	// ErrEmptyOutput is returned when the engine exits cleanly but produces nothing.
	ErrEmptyOutput = errors.New("unknown error occurred during processing")
)

// CompressionError is the single failure type returned by the bridge.
// Diagnostic holds the engine's stderr verbatim when there was any.
type CompressionError struct {
	Kind       ErrorKind
	Op         string
	Diagnostic string
	Err        error
}

func (e *CompressionError) Error() string {
	switch {
	case e.Diagnostic != "":
		return fmt.Sprintf("[%v] %s: %s", e.Kind, e.Op, e.Diagnostic)
	case e.Err != nil:
		return fmt.Sprintf("[%v] %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("[%v] %s", e.Kind, e.Op)
	}
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *CompressionError {
	return &CompressionError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of a CompressionError anywhere in err's chain,
// or 0 when there is none.
func KindOf(err error) ErrorKind {
	var ce *CompressionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsKind reports whether err is a CompressionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
