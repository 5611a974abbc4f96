// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"errors"
	"fmt"

	"github.com/creachadair/datapipe/code"
)

// ErrAlreadyShutDown is reported by Receive after the receiver has shut down.
var ErrAlreadyShutDown = errors.New("receiver is shut down")

// ErrReceiveInProgress is reported by Receive if a previous receive has not
// yet been resolved.
var ErrReceiveInProgress = errors.New("a receive is already in progress")

// Error is the concrete type of errors delivered as the result of a receive.
type Error struct {
	code   code.Code
	offset uint64
	fatal  bool
}

// Error renders e to a human-readable string for the error interface.
func (e *Error) Error() string {
	if e.fatal {
		return fmt.Sprintf("receiver shut down at offset %d: %v", e.offset, e.code)
	}
	return fmt.Sprintf("source error at offset %d: %v", e.offset, e.code)
}

// Code reports the error code reported by the source, or the fatal error code
// of the receiver if e is fatal. It satisfies the code.Coder interface.
func (e *Error) Code() code.Code { return e.code }

// Offset reports the number of bytes received before the error occurred.
func (e *Error) Offset() uint64 { return e.offset }

// Fatal reports whether e signals shutdown of the receiver.
func (e *Error) Fatal() bool { return e.fatal }

// IsFatal reports whether err is or wraps an *Error signalling shutdown.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.fatal
}
