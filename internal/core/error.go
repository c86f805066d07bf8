package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"

	"troupe/internal/flatjson"
)

// Code identifies an error kind. Each package owns a block of codes so
// a code plus its details pinpoints the failure without string
// matching.
type Code int32

const (
	CodeFailed     Code = 1
	CodePropagated Code = 2
	CodeErrno      Code = 3
)

// Location records where an error was constructed.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is the structured error carried by every fallible operation.
// It is immutable after construction. Cause forms a singly linked
// chain built only through the Wrap and Propagate constructors, so it
// is acyclic by construction.
type Error struct {
	Code     Code
	Details  *flatjson.Map
	Location Location
	Cause    *Error
}

func here(skip int) Location {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return Location{File: "unknown"}
	}
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return Location{File: file, Line: line}
}

func New(code Code) *Error {
	return &Error{Code: code, Details: flatjson.New(), Location: here(2)}
}

func NewWith(code Code, details *flatjson.Map) *Error {
	if details == nil {
		details = flatjson.New()
	}
	return &Error{Code: code, Details: details, Location: here(2)}
}

// Propagate wraps cause without adding a new code; the wrapper carries
// the propagation site in its location.
func Propagate(cause *Error) *Error {
	return &Error{Code: CodePropagated, Details: flatjson.New(), Location: here(2), Cause: cause}
}

func Wrap(code Code, cause *Error) *Error {
	return &Error{Code: code, Details: flatjson.New(), Location: here(2), Cause: cause}
}

func WrapWith(code Code, details *flatjson.Map, cause *Error) *Error {
	if details == nil {
		details = flatjson.New()
	}
	return &Error{Code: code, Details: details, Location: here(2), Cause: cause}
}

// FromErrno captures a failed syscall: the operation name, the raw
// errno value when available, and its message.
func FromErrno(op string, err error) *Error {
	details := flatjson.New().Set("op", op)
	var errno syscall.Errno
	if errors.As(err, &errno) {
		details.Set("errno", int64(errno))
	}
	if err != nil {
		details.Set("message", err.Error())
	}
	return &Error{Code: CodeErrno, Details: details, Location: here(2)}
}

// Error renders the canonical textual form, walking the cause chain
// depth first.
func (e *Error) Error() string {
	var sb strings.Builder
	for cur := e; cur != nil; cur = cur.Cause {
		if cur != e {
			sb.WriteString(" -> ")
		}
		fmt.Fprintf(&sb, "{code=%d details=%s at %s}", cur.Code, cur.Details.String(), cur.Location)
	}
	return sb.String()
}

// Chain returns the error and its causes in order, outermost first.
func (e *Error) Chain() []*Error {
	var out []*Error
	for cur := e; cur != nil; cur = cur.Cause {
		out = append(out, cur)
	}
	return out
}

// Is reports whether any error in the chain carries code.
func (e *Error) Is(code Code) bool {
	for cur := e; cur != nil; cur = cur.Cause {
		if cur.Code == code {
			return true
		}
	}
	return false
}
