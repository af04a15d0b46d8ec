// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import (
	"time"
)

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

func (e FDEventType) String() string {
	s := ""
	if e&EventRead != 0 {
		s += "r"
	}
	if e&EventWrite != 0 {
		s += "w"
	}
	if e&EventError != 0 {
		s += "e"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Event is one readiness report returned by Wait.
type Event struct {
	Fd     int
	Events FDEventType
}

// Reactor watches a set of descriptors for readiness. Interest is level
// triggered. A Reactor is not safe for concurrent use.
type Reactor interface {
	// Register adds fd with the given interest.
	Register(fd int, events FDEventType) error

	// Modify replaces the interest of a registered fd.
	Modify(fd int, events FDEventType) error

	// Unregister removes fd.
	Unregister(fd int) error

	// Wait blocks up to timeout (negative: forever) and fills out with
	// ready descriptors. Returns the number written. An interrupted wait
	// reports zero events and no error.
	Wait(out []Event, timeout time.Duration) (int, error)

	// Close releases the reactor.
	Close() error
}

// Until converts an absolute deadline to a Wait timeout. Zero and past
// deadlines yield zero (poll without blocking), so every wait is bounded.
func Until(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

// timeoutMillis rounds a timeout up to whole milliseconds so a short
// positive timeout never degenerates into a busy poll.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
