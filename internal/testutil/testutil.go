// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package testutil defines internal support code for writing tests.
package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/creachadair/datapipe"
	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/control"
	jchannel "github.com/creachadair/jrpc2/channel"
)

// A Step is one result from a Script: either data or an error.
type Step struct {
	Data string
	Err  error
}

// Script is an io.Reader that replays a sequence of steps, then reports
// io.EOF. A data step may be returned over several reads.
type Script []Step

// Read implements the io.Reader interface.
func (s *Script) Read(p []byte) (int, error) {
	if len(*s) == 0 {
		return 0, io.EOF
	}
	next := (*s)[0]
	if next.Err != nil {
		*s = (*s)[1:]
		return 0, next.Err
	}
	n := copy(p, next.Data)
	if n < len(next.Data) {
		(*s)[0].Data = next.Data[n:]
	} else {
		*s = (*s)[1:]
	}
	return n, nil
}

// SourceError is an error that reports itself as an error code.
type SourceError code.Code

// Code implements the code.Coder interface.
func (e SourceError) Code() code.Code { return code.Code(e) }

func (e SourceError) Error() string { return code.Code(e).String() }

// A Pipe is a receiver and a source joined by a control link over an
// in-memory JSON-RPC channel.
type Pipe struct {
	Receiver *datapipe.Receiver
	Source   *control.Source
	Link     *control.Link

	stop func()
}

// Options are optional settings for NewPipe. A nil *Options is valid.
type Options struct {
	Receiver *datapipe.ReceiverOptions
	Source   *control.SourceOptions
}

// NewPipe constructs a Pipe that sends data from input, and fails t if the
// control handshake does not succeed. Logs from both ends go to t.
func NewPipe(t *testing.T, input io.Reader, opts *Options) *Pipe {
	t.Helper()
	if opts == nil {
		opts = new(Options)
	}
	logger := datapipe.Logger(func(text string) { t.Log(text) })
	srcOpts := control.SourceOptions{ChunkSize: 4}
	if opts.Source != nil {
		srcOpts = *opts.Source
	}
	if srcOpts.Logger == nil {
		srcOpts.Logger = logger
	}

	var reg channel.Registry
	cch, sch := jchannel.Direct()
	src := control.NewSource(&reg, input, &srcOpts)
	srv := control.Serve(src, sch, nil)
	link := control.NewLink(cch, &control.LinkOptions{Logger: logger})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rcv, err := datapipe.Open(ctx, &reg, link, opts.Receiver)
	if err != nil {
		src.Stop()
		src.Wait()
		srv.Wait()
		link.Wait()
		t.Fatalf("Open: unexpected error: %v", err)
	}
	return &Pipe{
		Receiver: rcv,
		Source:   src,
		Link:     link,
		stop: func() {
			rcv.Close()
			src.Stop()
			if err := src.Wait(); err != nil {
				t.Logf("Source stopped: %v", err)
			}
			srv.Wait()
			link.Wait()
		},
	}
}

// Close shuts down both ends of p and waits for their goroutines to exit.
func (p *Pipe) Close() { p.stop() }
