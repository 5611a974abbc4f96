// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/metrics"
	"github.com/hashicorp/go-multierror"
)

// A Channel is the read end of a bounded byte channel. Read must not block:
// when no data are available it reports channel.ErrWouldBlock. Any other
// error from Read is treated as the end of the channel.
type Channel interface {
	Read([]byte) (int, error)
	Close() error
}

// A Waiter notifies a callback when a Channel becomes readable. Each call to
// Arm must deliver at most one notification, with a nil error if the channel
// is readable or a non-nil error if waiting failed. After Stop, no further
// notification should be delivered for earlier calls to Arm; a receiver
// discards any that arrive late.
type Waiter interface {
	Arm(notify func(error))
	Stop()
}

// An ErrorSink receives error notifications from a data source. The offset is
// the number of bytes the source produced before the error occurred.
type ErrorSink interface {
	OnError(offset uint64, c code.Code)
}

// A ControlLink is the out-of-band connection to a data source.
//
// A ControlLink must not call its bound ErrorSink synchronously from within
// Resume or Close. The receiver does not hold its lock while calling Resume,
// which may block on the link.
type ControlLink interface {
	// Init tells the source where to write its data. The handle names the
	// write end of the channel.
	Init(ctx context.Context, handle string) error

	// Resume asks the source to resume after an error was delivered.
	Resume() error

	// Bind registers the sink to be notified of errors from the source.
	Bind(ErrorSink)

	// Close shuts down the link.
	Close() error
}

// A Receiver reads a byte stream from a Channel on behalf of a single
// consumer, and delivers errors reported by the source over a ControlLink in
// stream order. The methods of a Receiver are safe for concurrent use.
type Receiver struct {
	ch    Channel
	wait  Waiter
	link  ControlLink
	fatal code.Code
	log   func(string, ...any)
	m     *metrics.M

	mu       sync.Mutex
	buf      []byte          // read buffer
	received uint64          // total bytes delivered to the consumer
	paused   bool            // an error was delivered; resume on next receive
	shutDown bool            // the receiver is closed
	cause    error           // why the receiver shut down, nil if closed by Close
	cur      *pendingReceive // the outstanding receive, or nil
	perr     *pendingError   // an undelivered error from the source, or nil
	armSeq   uint64          // identifies the current waiter registration
}

// NewReceiver constructs a receiver that reads from ch, using w to wait for
// ch to become readable, and binds it to link as the error sink.
func NewReceiver(ch Channel, w Waiter, link ControlLink, opts *ReceiverOptions) *Receiver {
	r := &Receiver{
		ch:    ch,
		wait:  w,
		link:  link,
		fatal: opts.fatalCode(),
		log:   opts.logFunc(),
		m:     opts.metrics(),
		buf:   make([]byte, opts.bufferSize()),
	}
	link.Bind(r)
	return r
}

// Open creates a channel, registers its write end in reg, and constructs a
// receiver for its read end. It then tells the source where to write by
// calling link.Init with the registered handle. If the handshake fails, the
// receiver is closed and Open reports the error.
func Open(ctx context.Context, reg *channel.Registry, link ControlLink, opts *ReceiverOptions) (*Receiver, error) {
	w, rd := channel.New(opts.bufferSize())
	r := NewReceiver(rd, channel.Watch(rd), link, opts)
	h := reg.Add(w)
	if err := link.Init(ctx, h); err != nil {
		reg.Claim(h) // discard
		w.Close()
		r.Close()
		return nil, err
	}
	r.log("Receiver initialized with handle %q", h)
	return r, nil
}

// Receive requests the next chunk of data from the channel. It does not
// block; the result is delivered to the returned *Pending.
//
// If an error reported by the source is due at the current offset, the
// result is that error, and is available immediately. If the previous result
// was such an error, Receive first asks the source to resume.
//
// Receive reports ErrAlreadyShutDown if the receiver is shut down, and
// ErrReceiveInProgress if a previous receive has not yet been resolved.
func (r *Receiver) Receive() (*Pending, error) {
	r.mu.Lock()
	if r.shutDown {
		r.mu.Unlock()
		return nil, ErrAlreadyShutDown
	} else if r.cur != nil {
		r.mu.Unlock()
		return nil, ErrReceiveInProgress
	}
	r.m.Count("receives", 1)

	pr := newPendingReceive()
	if r.perr != nil && pr.dispatchError(r.perr, r.received) {
		r.log("Delivered source error %v at offset %d", r.perr.code, r.received)
		r.m.Count("errors_delivered", 1)
		r.perr = nil
		r.paused = true
		r.mu.Unlock()
		return pr.p, nil
	}
	resume := r.paused
	r.paused = false
	r.cur = pr
	r.arm()
	r.mu.Unlock()

	// The resume request is sent without holding r.mu, so that a slow link
	// does not hold up error delivery or Close.
	if resume {
		r.m.Count("resumes", 1)
		if err := r.link.Resume(); err != nil {
			r.log("Resume failed: %v", err)
			r.mu.Lock()
			ok := r.shutdown(err)
			r.mu.Unlock()
			if ok {
				r.release()
			}
		}
	}
	return pr.p, nil
}

// Close shuts down the receiver, rejecting any outstanding receive with the
// fatal error code, and closes the control link and the channel. Close is
// safe to call more than once; only the first call has any effect. Close
// reports any errors from closing the link or the channel.
func (r *Receiver) Close() error {
	r.mu.Lock()
	ok := r.shutdown(nil)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.release()
}

// BytesReceived reports the total number of bytes delivered to the consumer.
func (r *Receiver) BytesReceived() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// Paused reports whether the receiver is waiting for a receive to resume the
// stream after delivering an error.
func (r *Receiver) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Err reports why the receiver shut down. It returns nil if the receiver is
// still running or was shut down by a call to Close, and io.EOF if the source
// closed the channel after all its data were received.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// OnError implements the ErrorSink interface. It delivers the error at once
// if a receive is outstanding and offset equals the number of bytes received
// so far; otherwise it holds the error for a later receive.
//
// Only one error is held at a time. If another error arrives before the held
// error is delivered, it replaces the held error.
func (r *Receiver) OnError(offset uint64, c code.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutDown {
		return
	}

	perr := &pendingError{code: c, offset: offset}
	if r.cur != nil && r.cur.dispatchError(perr, r.received) {
		r.log("Delivered source error %v at offset %d", c, offset)
		r.m.Count("errors_delivered", 1)
		r.cur = nil
		r.disarm()
		r.paused = true
		return
	}
	if r.perr != nil {
		r.log("Replacing undelivered error %v at offset %d", r.perr.code, r.perr.offset)
		r.m.Count("errors_replaced", 1)
	}
	r.log("Holding source error %v for offset %d (received %d)", c, offset, r.received)
	r.m.Count("errors_held", 1)
	r.perr = perr
}

// onHandleReady is the callback for the waiter registration identified by seq.
func (r *Receiver) onHandleReady(seq uint64, err error) {
	r.mu.Lock()
	if r.shutDown || seq != r.armSeq {
		r.mu.Unlock()
		return // stale notification
	}
	r.armSeq++

	if err != nil || r.cur == nil {
		if err == nil {
			err = errors.New("readiness notification without a pending receive")
		}
		r.log("Wait failed: %v", err)
		r.shutdown(err)
		r.mu.Unlock()
		r.release()
		return
	}

	n, err := r.ch.Read(r.buf)
	r.m.Count("reads", 1)
	if errors.Is(err, channel.ErrWouldBlock) || (err == nil && n == 0) {
		r.m.Count("wouldblock", 1)
		r.arm()
		r.mu.Unlock()
		return
	} else if err != nil {
		if err == io.EOF {
			r.log("Channel closed by source at offset %d", r.received)
		} else {
			r.log("Read failed: %v", err)
		}
		r.shutdown(err)
		r.mu.Unlock()
		r.release()
		return
	}

	// The counter is 64 bits wide; running off the end of it is treated as a
	// failure of the channel.
	if next := r.received + uint64(n); next < r.received {
		r.log("Byte counter overflow at offset %d", r.received)
		r.shutdown(errors.New("byte counter overflow"))
		r.mu.Unlock()
		r.release()
		return
	}
	data := make([]byte, n)
	copy(data, r.buf[:n])
	r.received += uint64(n)
	r.m.Count("bytes_received", int64(n))
	r.m.SetMaxValue("read_size", int64(n))

	pr := r.cur
	r.cur = nil
	pr.dispatchData(data)
	r.mu.Unlock()
}

// arm registers for a readiness notification. The caller must hold r.mu.
func (r *Receiver) arm() {
	r.armSeq++
	seq := r.armSeq
	r.wait.Arm(func(err error) { r.onHandleReady(seq, err) })
}

// disarm cancels the current readiness registration, if any. The caller must
// hold r.mu.
func (r *Receiver) disarm() {
	r.armSeq++
	r.wait.Stop()
}

// shutdown marks r as shut down, recording cause, and rejects the
// outstanding receive. It reports false if r was already shut down. The
// caller must hold r.mu, and if shutdown reports true must call release after
// unlocking.
func (r *Receiver) shutdown(cause error) bool {
	if r.shutDown {
		return false
	}
	r.shutDown = true
	r.cause = cause
	r.disarm()
	if pr := r.cur; pr != nil {
		r.cur = nil
		pr.dispatchFatal(r.fatal, r.received)
	}
	r.log("Receiver shut down at offset %d", r.received)
	return true
}

// release closes the control link and the channel. The caller must not hold
// r.mu.
func (r *Receiver) release() error {
	var err error
	if lerr := r.link.Close(); lerr != nil {
		err = multierror.Append(err, lerr)
	}
	if cerr := r.ch.Close(); cerr != nil {
		err = multierror.Append(err, cerr)
	}
	if err != nil {
		r.log("Errors closing receiver: %v", err)
	}
	return err
}
