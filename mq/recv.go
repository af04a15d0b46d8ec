// File: mq/recv.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbound slot: destination registration, header decoding and resumable
// body transfer.

package mq

import (
	"fmt"
	"io"

	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/sock"
)

// inbound is a registered destination. Once the header has been read,
// started is set and length/got track the body.
type inbound struct {
	kind    api.MessageKind
	sink    api.ByteSink
	w       io.Writer
	discard bool

	started bool
	length  int64
	got     int64
}

// completion is a fully received message awaiting Recv.
type completion struct {
	kind   api.MessageKind
	length int64
}

// StoreBuffer registers sink as the destination of the next inbound
// message without a destination. The message must be of buffer kind.
func (c *Channel) StoreBuffer(sink api.ByteSink) error {
	if sink == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "store buffer", nil)
	}
	return c.store("store buffer", &inbound{kind: api.MsgBuffer, sink: sink})
}

// StoreStream registers w as the destination of the next inbound message
// without a destination. On completion exactly the advertised length has
// been written to w. The channel never closes w.
func (c *Channel) StoreStream(w io.Writer) error {
	if w == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "store stream", nil)
	}
	return c.store("store stream", &inbound{kind: api.MsgStream, w: w})
}

func (c *Channel) store(op string, in *inbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != api.RoleConnected && c.role != api.RoleConnecting {
		return c.stateError(op)
	}
	if lim := c.cfg.QueueLimit; lim > 0 && c.pendingIn() >= lim {
		return api.NewError(api.ErrCodeQueueFull, op, nil).WithContext("limit", lim)
	}
	if err := c.inq.Push(in); err != nil {
		return api.NewError(api.ErrCodeQueueFull, op, err)
	}
	return nil
}

// pendingIn counts registered destinations, including the active one.
// A discarding slot is not counted.
func (c *Channel) pendingIn() int {
	n := c.inq.Len()
	if c.in != nil && !c.in.discard {
		n++
	}
	return n
}

// Recv moves as many inbound bytes as the socket allows. When the current
// message is complete it returns its kind and length and frees the slot
// for the next destination. Otherwise the error is iox.ErrMore if bytes
// moved and iox.ErrWouldBlock if none did; neither is a failure.
//
// A transport failure is reported once with api.ErrIO, after which the
// channel is closed and Recv returns api.ErrState. A kind mismatch is
// reported with api.ErrKindMismatch on every call until the channel is
// closed.
func (c *Channel) Recv() (api.MessageKind, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFault("recv"); err != nil {
		return api.MsgNone, 0, err
	}
	if c.role != api.RoleConnected && c.role != api.RoleConnecting {
		return api.MsgNone, 0, c.stateError("recv")
	}
	before := c.rx
	c.drive(0)
	if err := c.takeFault("recv"); err != nil {
		return api.MsgNone, 0, err
	}
	if d := c.done; d != nil {
		c.done = nil
		return d.kind, d.length, nil
	}
	if c.unclaimed {
		return api.MsgNone, 0, api.NewError(api.ErrCodeNoDestination, "recv", nil)
	}
	if c.rx != before {
		return api.MsgNone, 0, iox.ErrMore
	}
	return api.MsgNone, 0, iox.ErrWouldBlock
}

// takeFault returns the recorded fault, marking it observed. A failed
// channel reports its fault once and api.ErrState afterwards.
func (c *Channel) takeFault(op string) error {
	if c.fault == nil {
		return nil
	}
	if c.faultSeen && c.role == api.RoleClosed {
		return c.stateError(op)
	}
	c.faultSeen = true
	return c.fault
}

// fillIn reads until the socket would block, the current message
// completes or no destination is available. A non-nil error is fatal.
func (c *Channel) fillIn() (progress bool, err error) {
	var chunk []byte
	defer func() {
		if chunk != nil {
			c.chunks.PutBuffer(chunk)
		}
	}()
	for c.done == nil && c.fault == nil {
		if c.in != nil && c.in.discard && !c.in.started && !c.hdr.Started() && c.inq.Len() > 0 {
			c.in = nil
		}
		if c.in == nil {
			next, ok := c.inq.Pop()
			switch {
			case ok:
				c.in = next
			case c.cfg.DiscardUnclaimed:
				c.in = &inbound{discard: true}
			default:
				return progress, nil
			}
		}
		in := c.in
		if !in.started {
			n, err := sock.Read(c.fd, c.hdr.Remaining())
			if err != nil {
				if sock.WouldBlock(err) {
					return progress, nil
				}
				return progress, err
			}
			if n == 0 {
				if c.hdr.Started() {
					return progress, io.ErrUnexpectedEOF
				}
				return progress, io.EOF
			}
			progress = true
			c.rx += int64(n)
			h, done, err := c.hdr.Advance(n)
			if err != nil {
				return progress, err
			}
			if !done {
				continue
			}
			c.hdr.Reset()
			if !in.discard && h.Kind != in.kind && c.cfg.StrictKinds {
				c.fault = api.NewError(api.ErrCodeKindMismatch, "recv", nil).
					WithContext("wire", h.Kind.String()).WithContext("destination", in.kind.String())
				c.faultSeen = false
				c.log.WithField("wire", h.Kind).WithField("destination", in.kind).Warn("kind mismatch")
				return progress, nil
			}
			if in.discard {
				in.kind = h.Kind
			}
			in.started = true
			in.length = h.Length
		}
		for in.got < in.length {
			if chunk == nil {
				chunk = c.chunks.GetBuffer()
			}
			p := chunk
			if rest := in.length - in.got; rest < int64(len(p)) {
				p = p[:rest]
			}
			n, err := sock.Read(c.fd, p)
			if err != nil {
				if sock.WouldBlock(err) {
					return progress, nil
				}
				return progress, err
			}
			if n == 0 {
				return progress, io.ErrUnexpectedEOF
			}
			progress = true
			c.rx += int64(n)
			if err := in.deposit(p[:n]); err != nil {
				return progress, err
			}
			in.got += int64(n)
			c.cfg.Metrics.Add(control.BytesReceived, int64(n))
		}
		c.in = nil
		if in.discard {
			c.log.WithField("kind", in.kind).WithField("length", in.length).Debug("discarded unclaimed message")
			continue
		}
		c.done = &completion{kind: in.kind, length: in.length}
		c.cfg.Metrics.Add(control.MessagesReceived, 1)
		c.log.WithField("kind", in.kind).WithField("length", in.length).Trace("received")
	}
	return progress, nil
}

// probe looks for inbound bytes that no destination will take. It sets
// unclaimed when some are waiting and returns io.EOF when the peer has
// shut down.
func (c *Channel) probe() error {
	c.unclaimed = false
	if c.done != nil || c.fault != nil || c.in != nil || c.inq.Len() > 0 || c.cfg.DiscardUnclaimed {
		return nil
	}
	var b [1]byte
	n, err := sock.Peek(c.fd, b[:])
	switch {
	case sock.WouldBlock(err):
		return nil
	case err != nil:
		return err
	case n == 0:
		return io.EOF
	}
	c.unclaimed = true
	return nil
}

func (in *inbound) deposit(p []byte) error {
	switch {
	case in.discard:
		return nil
	case in.sink != nil:
		in.sink.Append(p)
		return nil
	default:
		if _, err := in.w.Write(p); err != nil {
			return fmt.Errorf("destination write: %w", err)
		}
		return nil
	}
}

func (c *Channel) dropInbound() {
	c.in = nil
	c.done = nil
	c.hdr.Reset()
	for {
		if _, ok := c.inq.Pop(); !ok {
			return
		}
	}
}
