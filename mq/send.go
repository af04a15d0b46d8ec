// File: mq/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound slot: queued sends and resumable partial writes.

package mq

import (
	"errors"
	"io"
	"io/fs"
	"syscall"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/sock"
	"github.com/momentics/hioload-mq/protocol"
)

// errUnsized rejects stream sources whose length cannot be learned without
// blocking.
var errUnsized = errors.New("stream source has no known length and no pollable descriptor")

// outbound is one message on its way to the wire. The cursor fields
// (hdrSent, sent, staged) persist across would-block returns.
type outbound struct {
	kind    api.MessageKind
	length  int64
	hdr     [protocol.HeaderLen]byte
	hdrSent int
	sent    int64

	data []byte    // buffer payload, owned copy
	src  io.Reader // stream payload, nil for buffers

	// rc is a descriptor source still being drained into data. The header
	// is encoded once it reaches EOF.
	rc syscall.RawConn

	stage  []byte // pooled chunk for stream payload
	staged []byte // unsent part of stage
}

func newOutbound(kind api.MessageKind, length int64) *outbound {
	o := &outbound{kind: kind, length: length}
	protocol.Header{Kind: kind, Length: length}.Encode(&o.hdr)
	return o
}

// payload returns the next bytes to write, staging a chunk from the
// stream source when needed.
func (o *outbound) payload(c *Channel) ([]byte, error) {
	if o.src == nil {
		return o.data[o.sent:], nil
	}
	if len(o.staged) > 0 {
		return o.staged, nil
	}
	if o.stage == nil {
		o.stage = c.chunks.GetBuffer()
	}
	want := int64(len(o.stage))
	if rest := o.length - o.sent; rest < want {
		want = rest
	}
	n, err := io.ReadAtLeast(o.src, o.stage[:want], 1)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	o.staged = o.stage[:n]
	return o.staged, nil
}

func (o *outbound) advance(n int) {
	o.sent += int64(n)
	if o.src != nil {
		o.staged = o.staged[n:]
	}
}

func (o *outbound) release(c *Channel) {
	if o.stage != nil {
		c.chunks.PutBuffer(o.stage)
		o.stage, o.staged = nil, nil
	}
	o.data = nil
	o.src = nil
	o.rc = nil
}

// collect reads whatever the descriptor source holds without blocking.
// At EOF the length is fixed and the message becomes sendable.
func (o *outbound) collect(c *Channel) error {
	chunk := c.chunks.GetBuffer()
	defer c.chunks.PutBuffer(chunk)
	for {
		var n int
		var rerr error
		err := o.rc.Read(func(fd uintptr) bool {
			n, rerr = sock.Read(int(fd), chunk)
			return true
		})
		switch {
		case err != nil:
			return err
		case sock.WouldBlock(rerr):
			return nil
		case rerr != nil:
			return rerr
		case n == 0:
			o.rc = nil
			o.length = int64(len(o.data))
			protocol.Header{Kind: o.kind, Length: o.length}.Encode(&o.hdr)
			return nil
		}
		o.data = append(o.data, chunk[:n]...)
	}
}

// SendBuffer queues a copy of p as a buffer message. The caller may reuse
// p as soon as SendBuffer returns.
func (c *Channel) SendBuffer(p []byte) error {
	o := newOutbound(api.MsgBuffer, int64(len(p)))
	o.data = append([]byte(nil), p...)
	return c.enqueue("send buffer", o)
}

// SendStream queues the remaining contents of src as a stream message and
// never blocks. The length is the size beyond the current offset for a
// regular file and Len for in-memory readers; their payload is read lazily
// while sending. A pipe or socket (any source with SyscallConn and read
// deadline support) is drained without blocking by later drives, and its
// header goes out once it reaches EOF; SendStream clears its read
// deadline. Other readers fail with api.ErrInvalidArgument; use
// SendStreamN for them. The channel owns src until the message has been
// written; it never closes it.
func (c *Channel) SendStream(src io.Reader) error {
	if src == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "send stream", nil)
	}
	if n, ok := streamLength(src); ok {
		return c.SendStreamN(src, n)
	}
	rc, err := rawSource(src)
	if err != nil {
		return api.NewError(api.ErrCodeInvalidArgument, "send stream", err)
	}
	o := &outbound{kind: api.MsgStream, rc: rc}
	return c.enqueue("send stream", o)
}

// SendStreamN queues exactly n bytes of src as a stream message. If src
// ends before n bytes the channel fails with api.ErrIO, since the header
// has already promised n bytes to the peer.
func (c *Channel) SendStreamN(src io.Reader, n int64) error {
	if src == nil || n < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "send stream", nil).WithContext("length", n)
	}
	o := newOutbound(api.MsgStream, n)
	o.src = src
	return c.enqueue("send stream", o)
}

func (c *Channel) enqueue(op string, o *outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != api.RoleConnected && c.role != api.RoleConnecting {
		return c.stateError(op)
	}
	if lim := c.cfg.QueueLimit; lim > 0 && c.pendingOut() >= lim {
		return api.NewError(api.ErrCodeQueueFull, op, nil).WithContext("limit", lim)
	}
	if c.out == nil {
		c.out = o
		return nil
	}
	if err := c.outq.Push(o); err != nil {
		return api.NewError(api.ErrCodeQueueFull, op, err)
	}
	return nil
}

// writable reports whether the head of the outbound queue can go to the
// socket now.
func (c *Channel) writable() bool {
	if c.out != nil {
		return c.out.rc == nil
	}
	return c.outq.Len() > 0
}

// collecting reports whether the head send is still draining its source.
func (c *Channel) collecting() bool {
	return c.out != nil && c.out.rc != nil
}

func (c *Channel) pendingOut() int {
	n := c.outq.Len()
	if c.out != nil {
		n++
	}
	return n
}

// flushOut writes queued messages until the socket would block or the
// queue is empty. A non-nil error is fatal to the channel.
func (c *Channel) flushOut() (progress bool, err error) {
	for {
		if c.out == nil {
			next, ok := c.outq.Pop()
			if !ok {
				return progress, nil
			}
			c.out = next
		}
		o := c.out
		if o.rc != nil {
			if err := o.collect(c); err != nil {
				return progress, err
			}
			if o.rc != nil {
				return progress, nil
			}
		}
		for o.hdrSent < protocol.HeaderLen {
			n, err := sock.Write(c.fd, o.hdr[o.hdrSent:])
			if err != nil {
				if sock.WouldBlock(err) {
					return progress, nil
				}
				return progress, err
			}
			o.hdrSent += n
			progress = true
		}
		for o.sent < o.length {
			p, err := o.payload(c)
			if err != nil {
				return progress, err
			}
			n, err := sock.Write(c.fd, p)
			if err != nil {
				if sock.WouldBlock(err) {
					return progress, nil
				}
				return progress, err
			}
			o.advance(n)
			c.cfg.Metrics.Add(control.BytesSent, int64(n))
			progress = true
		}
		c.log.WithField("kind", o.kind).WithField("length", o.length).Trace("sent")
		c.cfg.Metrics.Add(control.MessagesSent, 1)
		o.release(c)
		c.out = nil
	}
}

func (c *Channel) dropOutbound() {
	if c.out != nil {
		c.out.release(c)
		c.out = nil
	}
	for {
		o, ok := c.outq.Pop()
		if !ok {
			return
		}
		o.release(c)
	}
}

// streamLength reports the bytes left in a regular file or an in-memory
// reader.
func streamLength(src io.Reader) (int64, bool) {
	st, ok := src.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		if l, ok := src.(interface{ Len() int }); ok {
			return int64(l.Len()), true
		}
		return 0, false
	}
	fi, err := st.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		return 0, false
	}
	size := fi.Size()
	if sk, ok := src.(io.Seeker); ok {
		if off, err := sk.Seek(0, io.SeekCurrent); err == nil {
			size -= off
		}
	}
	if size < 0 {
		size = 0
	}
	return size, true
}

// rawSource returns the descriptor behind src when reads on it can be
// tried without blocking. Descriptors that refuse read deadlines are in
// blocking mode.
func rawSource(src io.Reader) (syscall.RawConn, error) {
	sc, ok := src.(interface {
		syscall.Conn
		SetReadDeadline(time.Time) error
	})
	if !ok {
		return nil, errUnsized
	}
	if err := sc.SetReadDeadline(time.Time{}); err != nil {
		return nil, errors.Join(errUnsized, err)
	}
	return sc.SyscallConn()
}
