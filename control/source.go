// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package control

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/creachadair/datapipe"
	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/metrics"
	"github.com/creachadair/jrpc2"
	jchannel "github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the read size used when SourceOptions does not set one.
const DefaultChunkSize = 4096

// ErrAlreadyStarted is reported by DataSource.Init if the source has already
// been initialized.
var ErrAlreadyStarted = errors.New("source is already started")

// SourceOptions control the behaviour of a source created by NewSource.
// A nil *SourceOptions provides sensible defaults.
type SourceOptions struct {
	// The maximum number of bytes to read from the input at once. If zero,
	// use DefaultChunkSize.
	ChunkSize int

	// If not nil, send debug text logs here.
	Logger datapipe.Logger

	// If not nil, send logs from the underlying JSON-RPC server here.
	RPCLogger datapipe.Logger

	// If not nil, this value is used to capture source metrics.
	Metrics *metrics.M
}

func (o *SourceOptions) chunkSize() int {
	if o == nil || o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o *SourceOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *SourceOptions) rpcLogger() jrpc2.Logger {
	if o == nil {
		return nil
	}
	return jrpc2.Logger(o.RPCLogger)
}

func (o *SourceOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// A Source is the producing end of a data pipe. It copies data from an
// io.Reader into the channel named by the receiver's DataSource.Init call.
//
// When the input reports an error other than io.EOF, the source tells the
// receiver the offset and code of the error (see code.FromError) and stops
// copying until the receiver asks it to resume. At io.EOF the source closes
// the channel.
type Source struct {
	reg   *channel.Registry
	input io.Reader
	chunk int
	log   func(string, ...any)
	m     *metrics.M

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu      sync.Mutex
	started bool
	paused  bool
	resume  chan struct{}
	offset  uint64
}

// NewSource constructs a source that copies data from input into a channel
// whose write end is registered in reg.
func NewSource(reg *channel.Registry, input io.Reader, opts *SourceOptions) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	return &Source{
		reg:    reg,
		input:  input,
		chunk:  opts.chunkSize(),
		log:    opts.logFunc(),
		m:      opts.metrics(),
		ctx:    gctx,
		cancel: cancel,
		g:      g,
		resume: make(chan struct{}, 1),
	}
}

// Methods returns the handlers for the methods served by s.
func (s *Source) Methods() handler.Map {
	return handler.Map{
		MethodInit:   handler.New(s.handleInit),
		MethodResume: handler.New(s.handleResume),
	}
}

// Serve starts a JSON-RPC server for the methods of s on ch, with server push
// enabled so the source can report errors to the receiver. The caller is
// responsible for stopping the server.
func Serve(s *Source, ch jchannel.Channel, opts *SourceOptions) *jrpc2.Server {
	return jrpc2.NewServer(s.Methods(), &jrpc2.ServerOptions{
		Logger:    opts.rpcLogger(),
		AllowPush: true,
	}).Start(ch)
}

// Offset reports the number of bytes the source has written to the channel.
func (s *Source) Offset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Stop stops copying data and closes the channel, if it was open.
func (s *Source) Stop() { s.cancel() }

// Wait blocks until the source has finished copying, and reports the error
// that stopped it. It reports nil if the input was copied completely.
func (s *Source) Wait() error {
	err := s.g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Source) handleInit(ctx context.Context, p InitParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	w, err := s.reg.Claim(p.Handle)
	if err != nil {
		return err
	}
	s.started = true

	srv := jrpc2.ServerFromContext(ctx)
	s.log("Source initialized with handle %q", p.Handle)
	s.g.Go(func() error { return s.pump(w, srv) })
	return nil
}

func (s *Source) handleResume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.log("Ignoring resume while not paused")
		return nil
	}
	s.paused = false
	s.m.Count("resume_requests", 1)
	select {
	case s.resume <- struct{}{}:
	default:
	}
	return nil
}

// pump copies data from the input to w until the input is exhausted or the
// source is stopped. Errors from the input are reported to the receiver.
func (s *Source) pump(w *channel.Writer, srv *jrpc2.Server) error {
	defer w.Close()

	buf := make([]byte, s.chunk)
	for {
		n, err := s.input.Read(buf)
		if n > 0 {
			if _, werr := w.WriteContext(s.ctx, buf[:n]); werr != nil {
				s.log("Write failed: %v", werr)
				return werr
			}
			s.mu.Lock()
			s.offset += uint64(n)
			s.mu.Unlock()
			s.m.Count("bytes_written", int64(n))
		}
		if err == io.EOF {
			s.log("Input complete at offset %d", s.Offset())
			return nil
		} else if err != nil {
			if perr := s.reportAndPause(srv, err); perr != nil {
				return perr
			}
		}
	}
}

// reportAndPause notifies the receiver of err at the current offset, and
// waits for a resume.
func (s *Source) reportAndPause(srv *jrpc2.Server, err error) error {
	s.mu.Lock()
	s.paused = true
	params := ErrorParams{Offset: s.offset, Code: int32(code.FromError(err))}
	s.mu.Unlock()

	s.log("Input error at offset %d: %v", params.Offset, err)
	s.m.Count("errors_reported", 1)
	if nerr := srv.Notify(s.ctx, MethodOnError, params); nerr != nil {
		s.log("Error notification failed: %v", nerr)
		return nerr
	}
	select {
	case <-s.resume:
		s.log("Resumed at offset %d", params.Offset)
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
