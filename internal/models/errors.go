package models

import (
	"errors"
	"fmt"
)

// Persistence sentinels shared by the store and its callers.
var (
	ErrVersionConflict = errors.New("agent version conflict")
	ErrDuplicateEvent  = errors.New("learning event already applied")
	ErrTaskConflict    = errors.New("task status changed concurrently")
)

// ErrorKind lets callers branch on a failure without string matching.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindCapacity   ErrorKind = "capacity"
	KindTransient  ErrorKind = "transient"
	KindPermanent  ErrorKind = "permanent"
	KindNotFound   ErrorKind = "not_found"
)

// Error is a typed failure from the decision core.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindConflict}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Reason == ""
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of the first *Error in err's chain, or err.Error().
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Conflictf(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Capacityf(op, format string, args ...any) *Error {
	return &Error{Kind: KindCapacity, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func NotFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Transient wraps an oracle failure that may succeed on retry.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Reason: "execution unavailable", Err: err}
}

// Permanent wraps an oracle failure that must fail the task.
func Permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Reason: "execution failed", Err: err}
}
