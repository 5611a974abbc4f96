// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

/*
Package datapipe implements the receiving end of a one-directional byte
stream carried over a bounded shared channel, with an out-of-band control
link for flow control and error reporting.

# Receivers

A *Receiver reads data from a Channel on behalf of a single consumer. The
consumer calls Receive to request the next chunk of data; Receive does not
block, but returns a *Pending whose result is delivered when data arrive:

	p, err := rcv.Receive()
	if err != nil {
	   log.Fatalf("Receive: %v", err) // shut down, or a receive in progress
	}
	data, err := p.Wait(ctx)

At most one receive may be outstanding at a time. A second call to Receive
before the first resolves reports ErrReceiveInProgress.

# Errors

A data source reports errors over its ControlLink, tagged with the offset in
the stream (a count of bytes) at which they occurred. The receiver holds each
such error until the consumer has received exactly that many bytes, then
delivers it as the result of a receive. The error has concrete type *Error.
After an error is delivered the stream is paused; the next call to Receive
asks the source to resume.

If the channel or the control link fails, or the receiver is closed, the
receiver shuts down. Any outstanding receive is rejected with an *Error
carrying the fatal error code from ReceiverOptions, and every later call to
Receive reports ErrAlreadyShutDown.

# Setup

The Open function creates a channel, registers its write end in a
channel.Registry, and performs the control handshake that tells the source
where to write. The control package provides a ControlLink and a data source
that speak JSON-RPC 2.0 over a jrpc2 channel.

For code that wants an io.Reader, NewReader wraps a Receiver.
*/
package datapipe
