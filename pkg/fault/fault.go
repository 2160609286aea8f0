// Package fault defines the error taxonomy shared by every stage of a turn.
// Each error carries a machine-readable Kind so callers can decide whether to
// retry, and a human-readable message that is safe to show to the end user.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindTransport means the language model service was unreachable or timed out.
	KindTransport Kind = "transport"
	// KindMalformedOutput marks a completion that was not a tool request. It is
	// never returned to callers; the parser falls back to a direct answer.
	KindMalformedOutput Kind = "malformed_model_output"
	// KindUnknownTool means the model named a tool that is not registered.
	KindUnknownTool Kind = "unknown_tool"
	// KindValidation means a parameter was missing, unknown, or of the wrong type.
	KindValidation Kind = "validation"
	// KindConnection means the relational store was unreachable.
	KindConnection Kind = "connection"
	// KindQuery means the store rejected a well-formed request.
	KindQuery Kind = "query"
	// KindTimeout means the whole turn ran past its deadline.
	KindTimeout Kind = "timeout"
)

// Error wraps an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "fetch" or "llm.complete".
	Op string
	// Field is set for validation errors and names the offending parameter.
	Field string
	// Message is a short description of the failure for logs.
	Message string
	// Retryable reports whether the same request may succeed if repeated.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transport wraps a model service failure.
func Transport(op string, err error, retryable bool) *Error {
	return &Error{Kind: KindTransport, Op: op, Retryable: retryable, Err: err}
}

// UnknownTool reports a tool name missing from the registry.
func UnknownTool(name string) *Error {
	return &Error{Kind: KindUnknownTool, Op: "dispatch", Field: name, Message: "tool is not registered"}
}

// Validation reports a bad parameter.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Connection wraps a store transport failure.
func Connection(op string, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Retryable: true, Err: err}
}

// Query wraps a store rejection of a well-formed request.
func Query(op string, err error) *Error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}

// Timeout reports a turn that exceeded its deadline.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. A bare context
// deadline is reported as KindTimeout. Unclassified errors return "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// UserMessage renders err for the end user. It is labelled with the kind and
// never includes the wrapped error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if !errors.As(err, &fe) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "[timeout] The question took too long to answer. Please try again."
		}
		return "[error] Something went wrong while answering the question."
	}

	switch fe.Kind {
	case KindTransport:
		return "[transport] The language model service is unavailable right now. Please try again later."
	case KindUnknownTool:
		return fmt.Sprintf("[unknown_tool] The assistant asked for a capability that does not exist (%q).", fe.Field)
	case KindValidation:
		if fe.Field != "" {
			return fmt.Sprintf("[validation] The query could not be run because of an invalid value for %q.", fe.Field)
		}
		return "[validation] The query could not be run because one of its values was invalid."
	case KindConnection:
		return "[connection] The database is unreachable right now. Please try again later."
	case KindQuery:
		return "[query] The database rejected the query."
	case KindTimeout:
		return "[timeout] The question took too long to answer. Please try again."
	default:
		return fmt.Sprintf("[%s] Something went wrong while answering the question.", fe.Kind)
	}
}
