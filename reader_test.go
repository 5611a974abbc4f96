// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/creachadair/datapipe"
	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/fortytw2/leaktest"
)

type testLink struct {
	sink    datapipe.ErrorSink
	resumes chan struct{}
}

func newTestLink() *testLink { return &testLink{resumes: make(chan struct{}, 10)} }

func (l *testLink) Init(context.Context, string) error { return nil }
func (l *testLink) Resume() error                      { l.resumes <- struct{}{}; return nil }
func (l *testLink) Bind(s datapipe.ErrorSink)          { l.sink = s }
func (l *testLink) Close() error                       { return nil }

func TestReader(t *testing.T) {
	defer leaktest.Check(t)()

	w, r := channel.New(32)
	link := newTestLink()
	rcv := datapipe.NewReceiver(r, channel.Watch(r), link, &datapipe.ReceiverOptions{
		BufferSize: 32,
		Logger:     func(text string) { t.Log(text) },
	})
	defer rcv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rd := datapipe.NewReader(ctx, rcv)

	w.Write([]byte("hello"))
	buf := make([]byte, 16)
	n, err := rd.Read(buf)
	if err != nil {
		t.Fatalf("Read: unexpected error: %v", err)
	} else if got := string(buf[:n]); got != "hello" {
		t.Errorf("Read: got %q, want %q", got, "hello")
	}

	// The source reports an error at the end of what it has written.
	link.sink.OnError(5, 7)
	_, err = rd.Read(buf)
	var e *datapipe.Error
	if !errors.As(err, &e) {
		t.Fatalf("Read: got %v, want *datapipe.Error", err)
	}
	if e.Code() != 7 || e.Offset() != 5 || e.Fatal() {
		t.Errorf("Read error: got code %v offset %d fatal %v, want 7, 5, false",
			e.Code(), e.Offset(), e.Fatal())
	}
	if got := code.FromError(err); got != 7 {
		t.Errorf("FromError(%v): got %v, want 7", err, got)
	}

	// After the error, the source resumes and finishes the stream.
	w.Write([]byte(", world"))
	w.Close()
	rest, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("ReadAll: unexpected error: %v", err)
	}
	if got := string(rest); got != ", world" {
		t.Errorf("ReadAll: got %q, want %q", got, ", world")
	}
	if len(link.resumes) != 1 {
		t.Errorf("Got %d resumes, want 1", len(link.resumes))
	}
	if got := rcv.BytesReceived(); got != 12 {
		t.Errorf("BytesReceived: got %d, want 12", got)
	}
	if err := rcv.Err(); err != io.EOF {
		t.Errorf("Err: got %v, want %v", err, io.EOF)
	}
}

func TestReaderContext(t *testing.T) {
	defer leaktest.Check(t)()

	w, r := channel.New(8)
	rcv := datapipe.NewReceiver(r, channel.Watch(r), newTestLink(), nil)
	defer rcv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	rd := datapipe.NewReader(ctx, rcv)

	if _, err := rd.Read(make([]byte, 4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Read: got %v, want %v", err, context.DeadlineExceeded)
	}

	// The receive begun by the abandoned read is still outstanding, and a
	// read with a live context picks up its result.
	if _, err := rcv.Receive(); !errors.Is(err, datapipe.ErrReceiveInProgress) {
		t.Errorf("Receive: got %v, want %v", err, datapipe.ErrReceiveInProgress)
	}
	w.Write([]byte("late"))
	buf := make([]byte, 8)
	n, err := rd.ReadContext(context.Background(), buf)
	if err != nil {
		t.Fatalf("ReadContext: unexpected error: %v", err)
	} else if got := string(buf[:n]); got != "late" {
		t.Errorf("ReadContext: got %q, want %q", got, "late")
	}
}
