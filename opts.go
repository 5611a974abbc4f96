// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package datapipe

import (
	"fmt"
	"log"
	"os"

	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/metrics"
)

// DefaultBufferSize is the buffer size used when ReceiverOptions does not set
// one.
const DefaultBufferSize = 64 << 10

// ReceiverOptions control the behaviour of a receiver created by NewReceiver.
// A nil *ReceiverOptions provides sensible defaults.
type ReceiverOptions struct {
	// The capacity of the channel buffer, which is also the largest amount of
	// data delivered by a single receive. If zero, use DefaultBufferSize.
	BufferSize int

	// The error code used to reject an outstanding receive when the receiver
	// shuts down. If zero (code.NoError), use code.Disconnected.
	FatalCode code.Code

	// If not nil, send debug text logs here.
	Logger Logger

	// If not nil, this value is used to capture receiver metrics.
	Metrics *metrics.M
}

func (o *ReceiverOptions) bufferSize() int {
	if o == nil || o.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

func (o *ReceiverOptions) fatalCode() code.Code {
	if o == nil || o.FatalCode == code.NoError {
		return code.Disconnected
	}
	return o.FatalCode
}

func (o *ReceiverOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *ReceiverOptions) metrics() *metrics.M {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// A Logger records text logs from a receiver, link, or source. A nil logger
// discards the text.
type Logger func(text string)

// Printf writes a formatted message to the logger. If lg == nil, the message
// is discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the returned
// function sends logs to the default logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return func(text string) { logger.Output(2, text) }
}
