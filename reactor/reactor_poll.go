//go:build unix && !linux

// File: reactor/reactor_poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based reactor for Unix systems without epoll.

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollReactor rebuilds a pollfd array from its interest map on each Wait.
type pollReactor struct {
	interest map[int]FDEventType
	fds      []unix.PollFd
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	return &pollReactor{interest: make(map[int]FDEventType)}, nil
}

func (r *pollReactor) Register(fd int, events FDEventType) error {
	if _, ok := r.interest[fd]; ok {
		return fmt.Errorf("poll register: %w", unix.EEXIST)
	}
	r.interest[fd] = events
	return nil
}

func (r *pollReactor) Modify(fd int, events FDEventType) error {
	if _, ok := r.interest[fd]; !ok {
		return fmt.Errorf("poll modify: %w", unix.ENOENT)
	}
	r.interest[fd] = events
	return nil
}

func (r *pollReactor) Unregister(fd int) error {
	if _, ok := r.interest[fd]; !ok {
		return fmt.Errorf("poll unregister: %w", unix.ENOENT)
	}
	delete(r.interest, fd)
	return nil
}

func (r *pollReactor) Wait(out []Event, timeout time.Duration) (int, error) {
	r.fds = r.fds[:0]
	for fd, ev := range r.interest {
		r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: toPoll(ev)})
	}
	n, err := unix.Poll(r.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	k := 0
	for i := 0; i < len(r.fds) && k < len(out) && n > 0; i++ {
		if r.fds[i].Revents == 0 {
			continue
		}
		out[k] = Event{Fd: int(r.fds[i].Fd), Events: fromPoll(r.fds[i].Revents)}
		k++
		n--
	}
	return k, nil
}

func (r *pollReactor) Close() error {
	r.interest = nil
	return nil
}
