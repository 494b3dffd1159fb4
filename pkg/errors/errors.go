package errors

import (
	"fmt"
	"io"
)

// ArrayifyError is the interface implemented by all errors raised by the
// indexed-storage core and the buffer allocator.
type ArrayifyError interface {
	error
	Kind() string // "Range", "Capacity" or "Interceptor"
	// Message returns the specific error message without the kind prefix.
	Message() string
	Unwrap() error
}

// --- Concrete Error Types ---

// RangeError reports an index or length outside representable bounds.
// It is local to the failing operation and never retried.
type RangeError struct {
	Msg   string
	Index uint64
	Limit uint64
	Cause error
}

func (e *RangeError) Error() string   { return "RangeError: " + e.Msg }
func (e *RangeError) Kind() string    { return "Range" }
func (e *RangeError) Message() string { return e.Msg }
func (e *RangeError) Unwrap() error   { return e.Cause }
func (e *RangeError) CausedBy(cause error) *RangeError {
	e.Cause = cause
	return e
}

// CapacityError reports a buffer creation or growth request that exceeds
// (or would exceed) a ceiling.
type CapacityError struct {
	Msg       string
	Requested uint64
	Limit     uint64
	Cause     error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("CapacityError: %s (requested %d, limit %d)", e.Msg, e.Requested, e.Limit)
}
func (e *CapacityError) Kind() string    { return "Capacity" }
func (e *CapacityError) Message() string { return e.Msg }
func (e *CapacityError) Unwrap() error   { return e.Cause }
func (e *CapacityError) CausedBy(cause error) *CapacityError {
	e.Cause = cause
	return e
}

// InterceptorError wraps a failure raised by an externally supplied getter
// or setter. The original error is reachable through Unwrap unchanged.
type InterceptorError struct {
	Msg   string
	Index uint32
	Cause error
}

func (e *InterceptorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("InterceptorError at index %d: %s: %v", e.Index, e.Msg, e.Cause)
	}
	return fmt.Sprintf("InterceptorError at index %d: %s", e.Index, e.Msg)
}
func (e *InterceptorError) Kind() string    { return "Interceptor" }
func (e *InterceptorError) Message() string { return e.Msg }
func (e *InterceptorError) Unwrap() error   { return e.Cause }
func (e *InterceptorError) CausedBy(cause error) *InterceptorError {
	e.Cause = cause
	return e
}

// --- Helpers ---

// NewRangeError builds a RangeError with a formatted message.
func NewRangeError(index, limit uint64, format string, args ...any) *RangeError {
	return &RangeError{Msg: fmt.Sprintf(format, args...), Index: index, Limit: limit}
}

// NewCapacityError builds a CapacityError with a formatted message.
func NewCapacityError(requested, limit uint64, format string, args ...any) *CapacityError {
	return &CapacityError{Msg: fmt.Sprintf(format, args...), Requested: requested, Limit: limit}
}

// KindOf returns the Kind of err if it is (or wraps) an ArrayifyError, and
// the empty string otherwise.
func KindOf(err error) string {
	for err != nil {
		if ae, ok := err.(ArrayifyError); ok {
			return ae.Kind()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// --- Error Reporting ---

// Report writes a list of errors to w, one per line, prefixed with their kind.
func Report(w io.Writer, errs []error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if KindOf(err) == "" {
			fmt.Fprintf(w, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(w, err.Error())
	}
}
