package service

import (
	"errors"
	"fmt"
)

// Kind classifies booking failures for callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindImmutable
	KindNoOp
	KindUpstream
	KindStoreFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindImmutable:
		return "immutable"
	case KindNoOp:
		return "no_op"
	case KindUpstream:
		return "upstream"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether repeating the same request may succeed.
func (k Kind) Retryable() bool {
	return k == KindUpstream || k == KindStoreFailure
}

type Error struct {
	Kind Kind
	// Field names the offending input for validation errors.
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += ":" + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of err, KindUnknown when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(field, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Field: field, Detail: fmt.Sprintf(format, args...)}
}

func newError(kind Kind, detail string, err error) error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}
