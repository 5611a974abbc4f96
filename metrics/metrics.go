// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package metrics defines a concurrently-accessible metrics collector for
// data receivers and sources.
//
// A *metrics.M value exports methods to track integer counters and maximum
// values. A metric has a caller-assigned string name that is not interpreted
// by the collector except to locate its stored value. The values in an M can
// be exported to Prometheus with NewCollector.
package metrics

import "sync"

// An M collects counters and maximum value trackers.  A nil *M is valid, and
// discards all metrics. The methods of an *M are safe for concurrent use by
// multiple goroutines.
type M struct {
	mu      sync.Mutex
	counter map[string]int64
	maxVal  map[string]int64
}

// New creates a new, empty metrics collector.
func New() *M {
	return &M{counter: make(map[string]int64), maxVal: make(map[string]int64)}
}

// Count adds n to the current value of the counter named, defining the counter
// if it does not already exist.
func (m *M) Count(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.counter[name] += n
	}
}

// SetMaxValue sets the maximum value metric named to the greater of n and its
// current value, defining the value if it does not already exist.
func (m *M) SetMaxValue(name string, n int64) {
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if n > m.maxVal[name] {
			m.maxVal[name] = n
		}
	}
}

// A Snapshot is a point-in-time copy of the values in an M.
type Snapshot struct {
	Counter  map[string]int64
	MaxValue map[string]int64
}

// Snapshot returns an atomic copy of the counters and max value trackers.
// A nil *M returns an empty snapshot.
func (m *M) Snapshot() Snapshot {
	s := Snapshot{Counter: make(map[string]int64), MaxValue: make(map[string]int64)}
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		for name, val := range m.counter {
			s.Counter[name] = val
		}
		for name, val := range m.maxVal {
			s.MaxValue[name] = val
		}
	}
	return s
}
