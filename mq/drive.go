// File: mq/drive.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking progress and bounded waits for a single channel.

package mq

import (
	"io"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/sock"
	"github.com/momentics/hioload-mq/reactor"
)

// collectInterval caps each block while a send drains a descriptor source,
// whose readiness the channel's reactor does not watch.
const collectInterval = 5 * time.Millisecond

// drive advances the handshake, the outbound queue and the inbound slot
// as far as the socket allows. ev carries readiness already observed by a
// reactor, zero when unknown. It reports whether anything moved.
// Failures are recorded with fail. Callers hold c.mu.
func (c *Channel) drive(ev reactor.FDEventType) bool {
	if c.fd < 0 {
		return false
	}
	switch c.role {
	case api.RoleListening:
		if ev&reactor.EventRead == 0 {
			ev, _ = reactor.WaitFD(c.fd, reactor.EventRead, 0)
		}
		c.acceptable = ev&reactor.EventRead != 0
		return false
	case api.RoleConnecting:
		ok, err := c.resolve()
		if err != nil {
			c.fail(api.ErrCodeConnect, "connect", err)
			return true
		}
		if !ok {
			return false
		}
	case api.RoleConnected:
	default:
		return false
	}
	moved := !c.resolved
	c.resolved = true

	sent, err := c.flushOut()
	if err != nil {
		c.fail(api.ErrCodeIO, "send", err)
		return true
	}
	got, err := c.fillIn()
	if err != nil {
		c.fail(api.ErrCodeIO, "recv", err)
		return true
	}
	if err := c.probe(); err != nil {
		c.fail(api.ErrCodeIO, "recv", err)
		return true
	}
	moved = moved || sent || got
	if ev&reactor.EventError != 0 && !moved && !c.unclaimed {
		// Hangup with nothing left to read would otherwise wake the
		// reactor forever.
		err := sock.Error(c.fd)
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		c.fail(api.ErrCodeIO, "poll", err)
		return true
	}
	return moved
}

// resolve checks whether a pending connect has completed.
func (c *Channel) resolve() (bool, error) {
	ev, err := reactor.WaitFD(c.fd, reactor.EventWrite, 0)
	if err != nil {
		return false, err
	}
	if ev == 0 {
		return false, nil
	}
	if err := sock.Error(c.fd); err != nil {
		return false, err
	}
	c.role = api.RoleConnected
	c.log.WithField("peer", c.peer).Debug("connected")
	return true, nil
}

// ready reports whether the caller has something to act on: a completed
// message, inbound bytes without a destination, a pending accept or an
// unobserved failure.
func (c *Channel) ready() bool {
	switch {
	case c.fault != nil:
		return !c.faultSeen
	case c.role == api.RoleListening:
		return c.acceptable
	default:
		return c.done != nil || c.unclaimed
	}
}

// interest is the readiness the channel needs to make progress.
func (c *Channel) interest() reactor.FDEventType {
	switch c.role {
	case api.RoleListening:
		return reactor.EventRead
	case api.RoleConnecting:
		return reactor.EventWrite
	case api.RoleConnected:
	default:
		return 0
	}
	var ev reactor.FDEventType
	if c.writable() {
		ev |= reactor.EventWrite
	}
	if c.done == nil && c.fault == nil && !c.unclaimed {
		ev |= reactor.EventRead
	}
	return ev
}

// Wait blocks until the channel is ready, the call moved bytes or resolved
// a pending connect, or the deadline passes. Pending sends and receives are
// driven while waiting. A timeout returns false with a nil error and leaves
// every transfer resumable. A zero or past deadline polls once.
func (c *Channel) Wait(deadline time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ev reactor.FDEventType
	for {
		if c.drive(ev) || c.ready() {
			return true, nil
		}
		if c.fd < 0 {
			return false, c.stateError("wait")
		}
		timeout := reactor.Until(deadline)
		if timeout == 0 {
			return false, nil
		}
		if c.collecting() {
			timeout = min(timeout, collectInterval)
		}
		var err error
		if ev, err = c.block(c.interest(), timeout); err != nil {
			return false, api.NewError(api.ErrCodeIO, "wait", err)
		}
	}
}

// Flush blocks until every queued send has been written, the channel fails
// or the deadline passes. It returns true once the outbound queue is
// empty. A failure is returned and counts as observed.
func (c *Channel) Flush(deadline time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ev reactor.FDEventType
	for {
		c.drive(ev)
		if c.fault != nil && c.role == api.RoleClosed {
			return false, c.takeFault("flush")
		}
		if c.fd < 0 || c.role == api.RoleListening {
			return false, c.stateError("flush")
		}
		if c.role == api.RoleConnected && c.pendingOut() == 0 {
			return true, nil
		}
		timeout := reactor.Until(deadline)
		if timeout == 0 {
			return false, nil
		}
		want := reactor.EventWrite
		if !c.writable() {
			want, timeout = 0, min(timeout, collectInterval)
		}
		var err error
		if ev, err = c.block(want, timeout); err != nil {
			return false, api.NewError(api.ErrCodeIO, "flush", err)
		}
	}
}

// block waits for events on the descriptor with c.mu released.
func (c *Channel) block(events reactor.FDEventType, timeout time.Duration) (reactor.FDEventType, error) {
	fd := c.fd
	c.mu.Unlock()
	ev, err := reactor.WaitFD(fd, events, timeout)
	c.mu.Lock()
	if c.fd != fd {
		return 0, nil
	}
	return ev, err
}
