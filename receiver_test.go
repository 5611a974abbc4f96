// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/metrics"
	"github.com/creachadair/mds/mtest"
	"github.com/google/go-cmp/cmp"
)

// fakeChannel delivers queued chunks of data, and reports ErrWouldBlock when
// it has none. Once the queue is empty, err (if set) is reported instead.
type fakeChannel struct {
	data   [][]byte
	err    error
	closed int
}

func (c *fakeChannel) push(s string) { c.data = append(c.data, []byte(s)) }

func (c *fakeChannel) Read(buf []byte) (int, error) {
	if c.closed > 0 {
		return 0, channel.ErrClosed
	} else if len(c.data) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, channel.ErrWouldBlock
	}
	n := copy(buf, c.data[0])
	if c.data[0] = c.data[0][n:]; len(c.data[0]) == 0 {
		c.data = c.data[1:]
	}
	return n, nil
}

func (c *fakeChannel) Close() error { c.closed++; return nil }

// fakeWaiter records registrations, and delivers a notification only when
// the test calls fire.
type fakeWaiter struct {
	notify func(error) // the current registration, or nil
	last   func(error) // the most recent registration, even if stopped
	arms   int
	stops  int
}

func (w *fakeWaiter) Arm(f func(error)) { w.notify, w.last = f, f; w.arms++ }
func (w *fakeWaiter) Stop()             { w.notify = nil; w.stops++ }

func (w *fakeWaiter) fire(t *testing.T, err error) {
	t.Helper()
	f := w.notify
	if f == nil {
		t.Fatal("Waiter is not armed")
	}
	w.notify = nil
	f(err)
}

type fakeLink struct {
	sink      ErrorSink
	handle    string
	initErr   error
	resumeErr error
	resumes   int
	closes    int
	onResume  func() // if set, called by Resume
}

func (l *fakeLink) Init(_ context.Context, h string) error { l.handle = h; return l.initErr }
func (l *fakeLink) Bind(s ErrorSink)                       { l.sink = s }
func (l *fakeLink) Close() error                           { l.closes++; return nil }

func (l *fakeLink) Resume() error {
	l.resumes++
	if l.onResume != nil {
		l.onResume()
	}
	return l.resumeErr
}

type testEnv struct {
	ch   *fakeChannel
	wait *fakeWaiter
	link *fakeLink
	rcv  *Receiver
	m    *metrics.M
}

const testFatal = code.Code(-100)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ch:   new(fakeChannel),
		wait: new(fakeWaiter),
		link: new(fakeLink),
		m:    metrics.New(),
	}
	env.rcv = NewReceiver(env.ch, env.wait, env.link, &ReceiverOptions{
		BufferSize: 16,
		FatalCode:  testFatal,
		Logger:     func(text string) { t.Log(text) },
		Metrics:    env.m,
	})
	if env.link.sink != env.rcv {
		t.Fatal("NewReceiver did not bind the receiver to the link")
	}
	return env
}

func (env *testEnv) mustReceive(t *testing.T) *Pending {
	t.Helper()
	p, err := env.rcv.Receive()
	if err != nil {
		t.Fatalf("Receive: unexpected error: %v", err)
	}
	return p
}

// receiveData receives a chunk of data that the test has queued, and checks
// that the result is want.
func (env *testEnv) receiveData(t *testing.T, want string) {
	t.Helper()
	p := env.mustReceive(t)
	env.wait.fire(t, nil)
	mustData(t, p, want)
}

func mustResult(t *testing.T, p *Pending) ([]byte, error) {
	t.Helper()
	if !p.Resolved() {
		t.Fatal("Pending receive is not resolved")
	}
	return p.Wait(context.Background())
}

func mustData(t *testing.T, p *Pending, want string) {
	t.Helper()
	data, err := mustResult(t, p)
	if err != nil {
		t.Fatalf("Receive: unexpected error: %v", err)
	}
	if got := string(data); got != want {
		t.Errorf("Receive: got %q, want %q", got, want)
	}
}

func mustError(t *testing.T, p *Pending, wantCode code.Code, wantFatal bool) *Error {
	t.Helper()
	_, err := mustResult(t, p)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Receive: got error %v, want *Error", err)
	}
	if e.Code() != wantCode || e.Fatal() != wantFatal {
		t.Errorf("Receive: got code %v fatal %v, want code %v fatal %v",
			e.Code(), e.Fatal(), wantCode, wantFatal)
	}
	return e
}

func TestReceiveData(t *testing.T) {
	env := newTestEnv(t)
	env.ch.push("abcd")

	p := env.mustReceive(t)
	if p.Resolved() {
		t.Fatal("Receive resolved before the channel was ready")
	}
	if env.wait.arms != 1 {
		t.Errorf("Waiter armed %d times, want 1", env.wait.arms)
	}
	env.wait.fire(t, nil)
	mustData(t, p, "abcd")
	if got := env.rcv.BytesReceived(); got != 4 {
		t.Errorf("BytesReceived: got %d, want 4", got)
	}

	// A chunk larger than the buffer is delivered in pieces.
	env.ch.push("0123456789abcdefXYZ")
	env.receiveData(t, "0123456789abcdef")
	env.receiveData(t, "XYZ")
	if got := env.rcv.BytesReceived(); got != 23 {
		t.Errorf("BytesReceived: got %d, want 23", got)
	}

	want := map[string]int64{"receives": 3, "reads": 3, "bytes_received": 23}
	if diff := cmp.Diff(want, env.m.Snapshot().Counter); diff != "" {
		t.Errorf("Counters (-want, +got):\n%s", diff)
	}
}

func TestWouldBlock(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustReceive(t)

	// Nothing to read: the receiver re-arms and the receive stays pending.
	env.wait.fire(t, nil)
	if p.Resolved() {
		t.Fatal("Receive resolved without data")
	}
	if env.wait.arms != 2 {
		t.Errorf("Waiter armed %d times, want 2", env.wait.arms)
	}

	env.ch.push("ok")
	env.wait.fire(t, nil)
	mustData(t, p, "ok")
}

func TestReceiveInProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustReceive(t)
	if _, err := env.rcv.Receive(); !errors.Is(err, ErrReceiveInProgress) {
		t.Errorf("Second Receive: got %v, want %v", err, ErrReceiveInProgress)
	}

	// The first receive is unaffected.
	env.ch.push("xyz")
	env.wait.fire(t, nil)
	mustData(t, p, "xyz")

	// Once it is resolved, another receive is allowed.
	env.mustReceive(t)
}

func TestOffsetGatedError(t *testing.T) {
	env := newTestEnv(t)
	env.ch.push("abc")
	env.receiveData(t, "abc")

	// The error is held until 10 bytes have been received.
	env.link.sink.OnError(10, 5)
	for _, chunk := range []string{"def", "ghi", "j"} {
		env.ch.push(chunk)
		env.receiveData(t, chunk)
	}
	if got := env.rcv.BytesReceived(); got != 10 {
		t.Fatalf("BytesReceived: got %d, want 10", got)
	}

	p := env.mustReceive(t)
	e := mustError(t, p, 5, false)
	if e.Offset() != 10 {
		t.Errorf("Error offset: got %d, want 10", e.Offset())
	}
	if !env.rcv.Paused() {
		t.Error("Receiver is not paused after delivering an error")
	}
	if env.wait.notify != nil {
		t.Error("Waiter armed for an already-resolved receive")
	}
	if env.link.resumes != 0 {
		t.Errorf("Got %d resumes, want 0", env.link.resumes)
	}
}

func TestErrorDuringReceive(t *testing.T) {
	env := newTestEnv(t)
	env.ch.push("abcd")
	env.receiveData(t, "abcd")

	p := env.mustReceive(t)
	env.link.sink.OnError(4, 9)
	mustError(t, p, 9, false)
	if env.wait.notify != nil || env.wait.stops != 1 {
		t.Errorf("Waiter: armed=%v stops=%d, want disarmed after 1 stop",
			env.wait.notify != nil, env.wait.stops)
	}
	if !env.rcv.Paused() {
		t.Error("Receiver is not paused after delivering an error")
	}
	if env.rcv.perr != nil {
		t.Errorf("Delivered error was also held: %+v", env.rcv.perr)
	}

	// A late notification from the cancelled registration is ignored.
	env.ch.push("late")
	env.wait.last(nil)
	if got := env.rcv.BytesReceived(); got != 4 {
		t.Errorf("BytesReceived after stale notification: got %d, want 4", got)
	}
}

func TestErrorAheadOfReceive(t *testing.T) {
	env := newTestEnv(t)

	// An error for a later offset does not disturb the outstanding receive.
	p := env.mustReceive(t)
	env.link.sink.OnError(2, 3)
	if p.Resolved() {
		t.Fatal("Receive resolved by an error for a later offset")
	}
	env.ch.push("ab")
	env.wait.fire(t, nil)
	mustData(t, p, "ab")

	mustError(t, env.mustReceive(t), 3, false)
}

func TestHeldErrorReplaced(t *testing.T) {
	env := newTestEnv(t)
	env.link.sink.OnError(5, 1)
	env.link.sink.OnError(3, 2)

	env.ch.push("abc")
	env.receiveData(t, "abc")
	mustError(t, env.mustReceive(t), 2, false)

	if got := env.m.Snapshot().Counter["errors_replaced"]; got != 1 {
		t.Errorf("errors_replaced: got %d, want 1", got)
	}
}

func TestResumeOnReceive(t *testing.T) {
	env := newTestEnv(t)
	env.link.sink.OnError(0, 7)
	mustError(t, env.mustReceive(t), 7, false)

	arms := env.wait.arms
	p := env.mustReceive(t)
	if env.link.resumes != 1 {
		t.Errorf("Got %d resumes, want 1", env.link.resumes)
	}
	if env.rcv.Paused() {
		t.Error("Receiver still paused after resuming")
	}
	if env.wait.arms != arms+1 {
		t.Errorf("Waiter armed %d times, want %d", env.wait.arms, arms+1)
	}

	// Only the first receive after the error resumes.
	env.ch.push("more")
	env.wait.fire(t, nil)
	mustData(t, p, "more")
	env.mustReceive(t)
	if env.link.resumes != 1 {
		t.Errorf("Got %d resumes, want 1", env.link.resumes)
	}
}

func TestResumeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.link.resumeErr = errors.New("link down")
	env.link.sink.OnError(0, 7)
	mustError(t, env.mustReceive(t), 7, false)

	mustError(t, env.mustReceive(t), testFatal, true)
	if _, err := env.rcv.Receive(); !errors.Is(err, ErrAlreadyShutDown) {
		t.Errorf("Receive after failed resume: got %v, want %v", err, ErrAlreadyShutDown)
	}
}

func TestResumeUnlocked(t *testing.T) {
	env := newTestEnv(t)
	env.link.sink.OnError(0, 7)
	mustError(t, env.mustReceive(t), 7, false)

	// While the resume is being sent, the receiver must remain available.
	var locked bool
	env.link.onResume = func() {
		if env.rcv.mu.TryLock() {
			env.rcv.mu.Unlock()
		} else {
			locked = true
		}
		env.link.sink.OnError(5, 8) // not due; held
	}
	p := env.mustReceive(t)
	if locked {
		t.Error("Receiver lock was held during Resume")
	}
	if p.Resolved() {
		t.Error("Receive resolved before the channel was ready")
	}
	if got := env.m.Snapshot().Counter["errors_held"]; got != 2 {
		t.Errorf("Errors held: got %d, want 2", got)
	}
}

func TestCounterOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.rcv.received = math.MaxUint64 - 1
	env.ch.push("abcd")

	p := env.mustReceive(t)
	env.wait.fire(t, nil)
	e := mustError(t, p, testFatal, true)
	if e.Offset() != math.MaxUint64-1 {
		t.Errorf("Fatal error offset: got %d, want %d", e.Offset(), uint64(math.MaxUint64-1))
	}
	if err := env.rcv.Err(); err == nil || !strings.Contains(err.Error(), "overflow") {
		t.Errorf("Err: got %v, want counter overflow", err)
	}
	if got := env.rcv.BytesReceived(); got != math.MaxUint64-1 {
		t.Errorf("BytesReceived: got %d, want %d", got, uint64(math.MaxUint64-1))
	}
	if env.link.closes != 1 || env.ch.closed != 1 {
		t.Errorf("Closes: link %d, channel %d; want 1, 1", env.link.closes, env.ch.closed)
	}
}

func TestCloseOutstanding(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustReceive(t)

	if err := env.rcv.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
	mustError(t, p, testFatal, true)
	if !IsFatal(p.err) {
		t.Errorf("IsFatal(%v): got false, want true", p.err)
	}
	if _, err := env.rcv.Receive(); !errors.Is(err, ErrAlreadyShutDown) {
		t.Errorf("Receive after Close: got %v, want %v", err, ErrAlreadyShutDown)
	}

	// A second close has no further effect.
	if err := env.rcv.Close(); err != nil {
		t.Errorf("Close again: unexpected error: %v", err)
	}
	if env.link.closes != 1 || env.ch.closed != 1 {
		t.Errorf("Closes: link %d, channel %d; want 1, 1", env.link.closes, env.ch.closed)
	}
	if err := env.rcv.Err(); err != nil {
		t.Errorf("Err after Close: got %v, want nil", err)
	}

	// Errors from the source after shutdown are ignored.
	env.link.sink.OnError(0, 1)
	if env.rcv.perr != nil {
		t.Errorf("Error held after shutdown: %+v", env.rcv.perr)
	}
}

func TestCloseIdle(t *testing.T) {
	env := newTestEnv(t)
	env.rcv.Close()
	if _, err := env.rcv.Receive(); !errors.Is(err, ErrAlreadyShutDown) {
		t.Errorf("Receive after Close: got %v, want %v", err, ErrAlreadyShutDown)
	}
}

func TestChannelEnd(t *testing.T) {
	env := newTestEnv(t)
	env.ch.push("tail")
	env.ch.err = io.EOF
	env.receiveData(t, "tail")

	p := env.mustReceive(t)
	env.wait.fire(t, nil)
	e := mustError(t, p, testFatal, true)
	if e.Offset() != 4 {
		t.Errorf("Fatal error offset: got %d, want 4", e.Offset())
	}
	if err := env.rcv.Err(); err != io.EOF {
		t.Errorf("Err: got %v, want %v", err, io.EOF)
	}
	if env.link.closes != 1 || env.ch.closed != 1 {
		t.Errorf("Closes: link %d, channel %d; want 1, 1", env.link.closes, env.ch.closed)
	}
}

func TestWaitFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustReceive(t)
	werr := errors.New("wait failed")
	env.wait.fire(t, werr)
	mustError(t, p, testFatal, true)
	if err := env.rcv.Err(); err != werr {
		t.Errorf("Err: got %v, want %v", err, werr)
	}
}

func TestDefaultFatalCode(t *testing.T) {
	ch, w, link := new(fakeChannel), new(fakeWaiter), new(fakeLink)
	r := NewReceiver(ch, w, link, nil)
	p, err := r.Receive()
	if err != nil {
		t.Fatalf("Receive: unexpected error: %v", err)
	}
	r.Close()
	mustError(t, p, code.Disconnected, true)
	if got := len(r.buf); got != DefaultBufferSize {
		t.Errorf("Buffer size: got %d, want %d", got, DefaultBufferSize)
	}
}

func TestPendingResolvedOnce(t *testing.T) {
	pr := newPendingReceive()
	pr.dispatchData([]byte("x"))
	mtest.MustPanic(t, func() { pr.dispatchFatal(testFatal, 1) })
}

func TestDispatchError(t *testing.T) {
	pr := newPendingReceive()
	if pr.dispatchError(&pendingError{code: 1, offset: 5}, 4) {
		t.Error("dispatchError fired at the wrong offset")
	}
	if pr.p.Resolved() {
		t.Error("Pending resolved by a non-matching error")
	}
	if !pr.dispatchError(&pendingError{code: 1, offset: 5}, 5) {
		t.Error("dispatchError did not fire at the matching offset")
	}
	mustError(t, pr.p, 1, false)
}

func TestPendingWaitContext(t *testing.T) {
	pr := newPendingReceive()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pr.p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait: got %v, want %v", err, context.Canceled)
	}

	// The receive is still usable after an abandoned wait.
	pr.dispatchData([]byte("ok"))
	mustData(t, pr.p, "ok")
}

func TestOpen(t *testing.T) {
	var reg channel.Registry
	link := new(fakeLink)
	r, err := Open(context.Background(), &reg, link, &ReceiverOptions{BufferSize: 8})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	defer r.Close()

	if link.sink != r {
		t.Error("Open did not bind the receiver to the link")
	}
	w, err := reg.Claim(link.handle)
	if err != nil {
		t.Fatalf("Claim(%q): %v", link.handle, err)
	}
	if got := w.Cap(); got != 8 {
		t.Errorf("Channel capacity: got %d, want 8", got)
	}
}

func TestOpenInitFailure(t *testing.T) {
	var reg channel.Registry
	link := &fakeLink{initErr: errors.New("no such source")}
	if r, err := Open(context.Background(), &reg, link, nil); err == nil {
		t.Fatalf("Open: got %v, want error", r)
	}
	if link.closes != 1 {
		t.Errorf("Link closed %d times, want 1", link.closes)
	}
	if n := reg.Len(); n != 0 {
		t.Errorf("Registry has %d handles after failed Open, want 0", n)
	}
}
