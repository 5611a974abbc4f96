// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"context"
	"io"
)

// A Reader adapts a Receiver to the io.Reader interface.
//
// An error reported by the source is returned once, by the Read call that
// reaches its offset; the following Read resumes the stream. When the
// receiver shuts down because the source closed the channel, Read reports
// io.EOF. Other fatal errors are returned as *Error values.
type Reader struct {
	ctx  context.Context
	r    *Receiver
	pend *Pending // an outstanding receive, or nil
	buf  []byte   // unread data from the last receive
}

// NewReader returns an io.Reader that reads from r. Calls to Read block until
// data are available or ctx ends.
func NewReader(ctx context.Context, r *Receiver) *Reader {
	return &Reader{ctx: ctx, r: r}
}

// Read implements the io.Reader interface. It is equivalent to ReadContext
// with the context passed to NewReader.
func (rd *Reader) Read(p []byte) (int, error) { return rd.ReadContext(rd.ctx, p) }

// ReadContext reads up to len(p) bytes into p, blocking until data are
// available or ctx ends. If ctx ends first, the receive it started remains
// outstanding, and a later read collects its result.
func (rd *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(rd.buf) == 0 {
		if rd.pend == nil {
			pend, err := rd.r.Receive()
			if err == ErrAlreadyShutDown && rd.r.Err() == io.EOF {
				return 0, io.EOF
			} else if err != nil {
				return 0, err
			}
			rd.pend = pend
		}

		select {
		case <-rd.pend.Done():
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		data, err := rd.pend.Wait(context.Background()) // already resolved
		rd.pend = nil
		if err != nil {
			if IsFatal(err) && rd.r.Err() == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		rd.buf = data
	}
	n := copy(p, rd.buf)
	rd.buf = rd.buf[n:]
	return n, nil
}
