// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel implements the bounded byte channel that carries data from
// a source to a datapipe.Receiver, along with a readiness waiter for it.
//
// A channel has a write end, held by the data source, and a read end, held by
// the receiver. Reads are non-blocking: when the channel is empty a read
// reports ErrWouldBlock, and the reader uses a Watcher to find out when data
// arrive. Writes block while the channel is full.
//
// Handles to write ends can be passed between the two sides of a control link
// by name, using a Registry.
package channel
