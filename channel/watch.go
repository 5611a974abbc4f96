// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import "sync"

// A Watcher waits for the read end of a channel to become readable, and
// notifies a callback when it does. Each call to Arm delivers at most one
// notification.
type Watcher struct {
	r *Reader

	mu   sync.Mutex
	stop chan struct{} // closed to cancel the current wait; nil if unarmed
}

// Watch returns a new unarmed Watcher for r.
func Watch(r *Reader) *Watcher { return &Watcher{r: r} }

// Arm begins waiting for the reader to become readable, and calls notify once
// when it does. The argument to notify is nil if data are available or the
// writer has closed, and ErrClosed if the read end was closed. If w was
// already armed, the previous wait is cancelled without notification.
//
// Arm does not block; notify is called on a separate goroutine.
func (w *Watcher) Arm(notify func(error)) {
	w.mu.Lock()
	if w.stop != nil {
		close(w.stop)
	}
	stop := make(chan struct{})
	w.stop = stop
	w.mu.Unlock()

	go w.wait(stop, notify)
}

// Stop cancels the current wait, if any. Stop does not wait for a
// notification that is already being delivered to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

// Armed reports whether w is currently waiting.
func (w *Watcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}

func (w *Watcher) wait(stop chan struct{}, notify func(error)) {
	for !w.r.Readable() {
		select {
		case <-w.r.p.ready:
		case <-stop:
			return
		}
	}

	w.mu.Lock()
	current := w.stop == stop
	if current {
		w.stop = nil
	}
	w.mu.Unlock()

	if !current {
		// A cancelled wait may have consumed a wakeup meant for its
		// successor. Put it back.
		signal(w.r.p.ready)
		return
	}
	if w.r.closed() {
		notify(ErrClosed)
	} else {
		notify(nil)
	}
}
