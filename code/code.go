// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package code defines error code values reported by data sources and used by
// the datapipe package.
package code

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// A Code is an error code reported by a data source. Apart from the values
// defined below, codes are opaque to the receiver: a source may use any value
// it likes, and the receiver hands it back to the caller unchanged.
type Code int32

func (c Code) String() string {
	if s, ok := lookup(c); ok {
		return s
	}
	return fmt.Sprintf("error code %d", c)
}

// A Coder is a value that can report an error code value.
type Coder interface {
	Code() Code
}

// Err converts c to an error value, which is nil for code.NoError and
// otherwise an error value whose code is c.
func (c Code) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

type codeError Code

func (e codeError) Error() string {
	if s, ok := lookup(Code(e)); ok {
		return fmt.Sprintf("[%d] %s", int32(e), s)
	}
	return Code(e).String()
}

func (e codeError) Code() Code { return Code(e) }

// Is reports whether err carries the same code as e.
func (e codeError) Is(err error) bool {
	c, ok := err.(Coder)
	return ok && c.Code() == Code(e)
}

// Pre-defined error codes. Sources are free to report these, but they exist
// mainly for use by the receiver and the control link.
const (
	NoError          Code = 0  // Denotes a nil error (used by FromError)
	SystemError      Code = -1 // Errors from the operating environment
	Cancelled        Code = -2 // Operation cancelled (context.Canceled)
	DeadlineExceeded Code = -3 // Deadline exceeded (context.DeadlineExceeded)
	Disconnected     Code = -4 // The channel or control link was lost
	SourceFailed     Code = -5 // The source could not produce more data
)

var (
	mu       sync.RWMutex
	stdError = map[Code]string{
		NoError:          "no error (success)",
		SystemError:      "system error",
		Cancelled:        "operation cancelled",
		DeadlineExceeded: "deadline exceeded",
		Disconnected:     "disconnected",
		SourceFailed:     "source failed",
	}
)

func lookup(c Code) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := stdError[c]
	return s, ok
}

// Register adds a new Code value with the specified message string.  This
// function will panic if the proposed value is already registered.
func Register(value int32, message string) Code {
	mu.Lock()
	defer mu.Unlock()
	code := Code(value)
	if s, ok := stdError[code]; ok {
		panic(fmt.Sprintf("code %d is already registered for %q", code, s))
	}
	stdError[code] = message
	return code
}

// FromError returns a Code to categorize the specified error.
// If err == nil, it returns code.NoError.
// If err is (or wraps) a Coder, it returns the reported code value.
// If err is context.Canceled, it returns code.Cancelled.
// If err is context.DeadlineExceeded, it returns code.DeadlineExceeded.
// Otherwise it returns code.SystemError.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	default:
		return SystemError
	}
}
