// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"context"

	"github.com/creachadair/datapipe/code"
)

// A Pending is the result of a single call to Receive. It resolves exactly
// once, either with data or with an error of concrete type *Error.
type Pending struct {
	ready chan struct{} // closed when the result is available

	// These fields are written once, before ready is closed.
	data []byte
	err  error
}

// Wait blocks until p is resolved or ctx ends, and returns its result. If
// ctx ends first, Wait reports the error from ctx; the receive remains
// outstanding and Wait may be called again.
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.ready:
		return p.data, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel that is closed when p is resolved.
func (p *Pending) Done() <-chan struct{} { return p.ready }

// Resolved reports whether p has been resolved.
func (p *Pending) Resolved() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// A pendingError is an error reported by the source that has not yet been
// delivered to a receive.
type pendingError struct {
	code   code.Code
	offset uint64
}

// A pendingReceive is the receiver's side of a Pending. It is owned by the
// receiver until one of its dispatch methods resolves it.
type pendingReceive struct {
	p     *Pending
	fired bool
}

func newPendingReceive() *pendingReceive {
	return &pendingReceive{p: &Pending{ready: make(chan struct{})}}
}

func (pr *pendingReceive) resolve(data []byte, err error) {
	if pr.fired {
		panic("pending receive resolved more than once")
	}
	pr.fired = true
	pr.p.data, pr.p.err = data, err
	close(pr.p.ready)
}

// dispatchData resolves pr successfully with data.
func (pr *pendingReceive) dispatchData(data []byte) { pr.resolve(data, nil) }

// dispatchError resolves pr with perr if and only if perr occurred at the
// given offset, and reports whether it did so.
func (pr *pendingReceive) dispatchError(perr *pendingError, offset uint64) bool {
	if perr.offset != offset {
		return false
	}
	pr.resolve(nil, &Error{code: perr.code, offset: perr.offset})
	return true
}

// dispatchFatal resolves pr with a fatal error carrying c.
func (pr *pendingReceive) dispatchFatal(c code.Code, offset uint64) {
	pr.resolve(nil, &Error{code: c, offset: offset, fatal: true})
}
