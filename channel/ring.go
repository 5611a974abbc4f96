// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrWouldBlock is reported by a non-blocking operation that cannot make
	// progress until the other end of the channel does something.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is reported by an operation on a closed channel end, and by
	// writes after the read end has been closed.
	ErrClosed = errors.New("channel is closed")
)

// New constructs a channel with a buffer of the given capacity in bytes, and
// returns its write and read ends. New will panic if capacity <= 0.
func New(capacity int) (*Writer, *Reader) {
	if capacity <= 0 {
		panic("invalid channel capacity")
	}
	p := &ring{
		buf:   make([]byte, capacity),
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
	return &Writer{p: p}, &Reader{p: p}
}

// ring is the state shared by both ends of a channel.
type ring struct {
	mu    sync.Mutex
	buf   []byte // ring storage; len(buf) is the capacity
	head  int    // offset of the first unread byte
	size  int    // number of unread bytes
	wdone bool   // the write end is closed
	rdone bool   // the read end is closed

	ready chan struct{} // signals the reader that its state may have changed
	space chan struct{} // signals the writer that its state may have changed
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// A Reader is the read end of a channel. Its methods are safe for concurrent
// use, but a channel is meant to have a single consumer.
type Reader struct{ p *ring }

// Read copies up to len(p) unread bytes from the channel into buf. It does
// not block: if no data are available it reports ErrWouldBlock. Once the
// writer has closed and all data have been read, Read reports io.EOF. After
// the reader is closed, Read reports ErrClosed.
func (r *Reader) Read(buf []byte) (int, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rdone {
		return 0, ErrClosed
	} else if p.size == 0 {
		if p.wdone {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	} else if len(buf) == 0 {
		return 0, nil
	}

	n := 0
	for n < len(buf) && p.size > 0 {
		end := p.head + p.size
		if end > len(p.buf) {
			end = len(p.buf)
		}
		nc := copy(buf[n:], p.buf[p.head:end])
		n += nc
		p.size -= nc
		p.head = (p.head + nc) % len(p.buf)
	}
	if p.size == 0 {
		p.head = 0
	}
	signal(p.space)
	return n, nil
}

// Readable reports whether a call to Read would not report ErrWouldBlock.
func (r *Reader) Readable() bool {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size > 0 || p.wdone || p.rdone
}

// Buffered reports the number of unread bytes in the channel.
func (r *Reader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.size
}

// Close closes the read end of the channel. Any unread data are discarded,
// and subsequent writes report ErrClosed. It is safe to call Close more than
// once.
func (r *Reader) Close() error {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.rdone {
		p.rdone = true
		p.head, p.size = 0, 0
		signal(p.ready)
		signal(p.space)
	}
	return nil
}

func (r *Reader) closed() bool {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.rdone
}

// A Writer is the write end of a channel.
type Writer struct{ p *ring }

// Cap reports the capacity of the channel buffer in bytes.
func (w *Writer) Cap() int { return len(w.p.buf) }

// TryWrite copies as much of buf into the channel as will fit without
// blocking, and reports the number of bytes copied. If the channel is full it
// reports ErrWouldBlock. If either end of the channel is closed, it reports
// ErrClosed.
func (w *Writer) TryWrite(buf []byte) (int, error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wdone || p.rdone {
		return 0, ErrClosed
	} else if len(buf) == 0 {
		return 0, nil
	} else if p.size == len(p.buf) {
		return 0, ErrWouldBlock
	}

	n := 0
	for n < len(buf) && p.size < len(p.buf) {
		tail := (p.head + p.size) % len(p.buf)
		end := len(p.buf)
		if tail < p.head {
			end = p.head
		}
		nc := copy(p.buf[tail:end], buf[n:])
		n += nc
		p.size += nc
	}
	signal(p.ready)
	return n, nil
}

// Write copies all of buf into the channel, blocking while the channel is
// full. It is equivalent to WriteContext with a background context.
func (w *Writer) Write(buf []byte) (int, error) {
	return w.WriteContext(context.Background(), buf)
}

// WriteContext copies all of buf into the channel, blocking while the channel
// is full until ctx ends. It reports the number of bytes written, which is
// less than len(buf) only if err != nil.
func (w *Writer) WriteContext(ctx context.Context, buf []byte) (int, error) {
	nw := 0
	for nw < len(buf) {
		n, err := w.TryWrite(buf[nw:])
		nw += n
		if errors.Is(err, ErrWouldBlock) {
			select {
			case <-w.p.space:
			case <-ctx.Done():
				return nw, ctx.Err()
			}
		} else if err != nil {
			return nw, err
		}
	}
	return nw, nil
}

// Close closes the write end of the channel. The reader may still read any
// data that were already written. It is safe to call Close more than once.
func (w *Writer) Close() error {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.wdone {
		p.wdone = true
		signal(p.ready)
	}
	return nil
}
