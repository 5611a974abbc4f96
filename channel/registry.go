// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownHandle is reported by Registry.Claim for a handle that was never
// registered, or that was already claimed.
var ErrUnknownHandle = errors.New("unknown channel handle")

// A Registry maps opaque string handles to channel write ends, so that a
// write end can be named in a control message and claimed by the data source
// that receives it. A zero Registry is ready for use, and its methods are safe
// for concurrent use by multiple goroutines.
type Registry struct {
	mu    sync.Mutex
	pipes map[string]*Writer
}

// Add registers w and returns a fresh handle for it.
func (r *Registry) Add(w *Writer) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipes == nil {
		r.pipes = make(map[string]*Writer)
	}
	h := uuid.NewString()
	r.pipes[h] = w
	return h
}

// Claim removes and returns the write end registered for handle. Each handle
// can be claimed only once.
func (r *Registry) Claim(handle string) (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.pipes[handle]
	if !ok {
		return nil, ErrUnknownHandle
	}
	delete(r.pipes, handle)
	return w, nil
}

// Len reports the number of unclaimed handles in r.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipes)
}
