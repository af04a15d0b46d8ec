//go:build unix

// File: reactor/waitfd_unix.go
// Author: momentics <momentics@gmail.com>
//
// Single-descriptor readiness wait on poll(2).

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func toPoll(events FDEventType) int16 {
	var ev int16
	if events&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPoll(rev int16) FDEventType {
	var out FDEventType
	if rev&unix.POLLIN != 0 {
		out |= EventRead
	}
	if rev&unix.POLLOUT != 0 {
		out |= EventWrite
	}
	if rev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		out |= EventError
	}
	return out
}

// WaitFD blocks up to timeout for fd to satisfy events and returns the
// observed readiness, zero on timeout.
func WaitFD(fd int, events FDEventType, timeout time.Duration) (FDEventType, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: toPoll(events)}}
	n, err := unix.Poll(fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	return fromPoll(fds[0].Revents), nil
}
