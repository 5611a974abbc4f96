// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package control

import (
	"context"
	"sync"

	"github.com/creachadair/datapipe"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/jrpc2"
	jchannel "github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/mds/queue"
)

// LinkOptions control the behaviour of a link created by NewLink.
// A nil *LinkOptions provides sensible defaults.
type LinkOptions struct {
	// If not nil, send debug text logs here.
	Logger datapipe.Logger

	// If not nil, send logs from the underlying JSON-RPC client here.
	RPCLogger datapipe.Logger
}

func (o *LinkOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *LinkOptions) rpcLogger() jrpc2.Logger {
	if o == nil {
		return nil
	}
	return jrpc2.Logger(o.RPCLogger)
}

// A Link is the receiver's end of a control link. It implements the
// datapipe.ControlLink interface.
//
// Error notifications from the source are queued as they arrive and delivered
// to the bound sink in order on a separate goroutine, so that the sink may
// safely call back into the link.
type Link struct {
	cli  *jrpc2.Client
	log  func(string, ...any)
	work chan struct{} // signals the dispatcher
	stop chan struct{} // closed when the link is closed
	done chan struct{} // closed when the dispatcher exits

	mu     sync.Mutex
	sink   datapipe.ErrorSink
	notes  *queue.Queue[ErrorParams]
	closed bool
}

// NewLink constructs a link that communicates with a source via ch.
func NewLink(ch jchannel.Channel, opts *LinkOptions) *Link {
	l := &Link{
		log:   opts.logFunc(),
		work:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		notes: queue.New[ErrorParams](),
	}
	l.cli = jrpc2.NewClient(ch, &jrpc2.ClientOptions{
		Logger:   opts.rpcLogger(),
		OnNotify: l.onNotify,
	})
	go func() { defer close(l.done); l.dispatch() }()
	return l
}

// Init implements part of datapipe.ControlLink. It calls DataSource.Init
// with the given handle and waits for the source to accept it.
func (l *Link) Init(ctx context.Context, handle string) error {
	_, err := l.cli.Call(ctx, MethodInit, InitParams{Handle: handle})
	return err
}

// Resume implements part of datapipe.ControlLink. It sends a
// DataSource.Resume notification to the source.
func (l *Link) Resume() error {
	return l.cli.Notify(context.Background(), MethodResume, nil)
}

// Bind implements part of datapipe.ControlLink. Notifications that arrived
// before a sink was bound are delivered to the new sink.
func (l *Link) Bind(sink datapipe.ErrorSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
	signal(l.work)
}

// Close implements part of datapipe.ControlLink. It shuts down the client and
// stops delivery of notifications. Close does not wait for a delivery that
// is already in progress.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stop)
	l.mu.Unlock()
	return l.cli.Close()
}

// Wait blocks until the link is closed and its dispatcher has exited.
func (l *Link) Wait() { <-l.done }

func (l *Link) onNotify(req *jrpc2.Request) {
	if req.Method() != MethodOnError {
		l.log("Discarding unknown notification %q", req.Method())
		return
	}
	var p ErrorParams
	if err := req.UnmarshalParams(&p); err != nil {
		l.log("Invalid %s parameters: %v", MethodOnError, err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes.Add(p)
	signal(l.work)
}

// dispatch delivers queued notifications to the sink until the link closes.
func (l *Link) dispatch() {
	for {
		select {
		case <-l.work:
		case <-l.stop:
			return
		}
		for {
			l.mu.Lock()
			if l.closed || l.sink == nil {
				l.mu.Unlock()
				break
			}
			p, ok := l.notes.Pop()
			sink := l.sink
			l.mu.Unlock()
			if !ok {
				break
			}
			l.log("Source error %d at offset %d", p.Code, p.Offset)
			sink.OnError(p.Offset, code.Code(p.Code))
		}
	}
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
