// File: mq/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel lifecycle: serve, connect, accept and close.

package mq

import (
	"net"
	"strconv"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/sock"
	"github.com/momentics/hioload-mq/pool"
	"github.com/momentics/hioload-mq/protocol"
	"github.com/momentics/hioload-mq/reactor"
)

// serials numbers channels for log correlation.
var serials atomix.Uint32

// Channel is one socket-backed message endpoint. It owns at most one
// active outbound transfer and one active inbound transfer; further sends
// and destinations queue behind them in FIFO order.
type Channel struct {
	mu     sync.Mutex
	fd     int
	role   api.Role
	serial uint32
	peer   string
	cfg    *Config
	log    *logrus.Entry
	chunks *pool.BytePool

	out  *outbound
	outq pool.FIFO[*outbound]

	in   *inbound
	inq  pool.FIFO[*inbound]
	hdr  protocol.HeaderDecoder
	done *completion
	rx   int64 // inbound bytes read, header included

	// fault is the failure awaiting observation by Recv. faultSeen is set
	// once it has been returned.
	fault     error
	faultSeen bool
	resolved  bool

	group      *PollGroup
	armed      armedState
	acceptable bool
	unclaimed  bool // inbound bytes wait for a destination
}

// armedState caches the reactor interest registered by a group.
type armedState struct {
	events reactor.FDEventType
	valid  bool
}

func newChannel(fd int, role api.Role, cfg *Config) *Channel {
	c := &Channel{
		fd:     fd,
		role:   role,
		serial: serials.Add(1),
		cfg:    cfg,
		chunks: pool.Shared(cfg.ChunkSize),
		outq:   pool.NewFIFO[*outbound](cfg.QueueLimit),
		inq:    pool.NewFIFO[*inbound](cfg.QueueLimit),
	}
	c.log = cfg.Logger.WithField("ch", c.serial)
	cfg.Metrics.Add(control.ChannelsOpened, 1)
	return c
}

// Serve binds addr:port and listens. Port 0 selects an ephemeral port,
// reported by Port.
func Serve(addr string, port int, opts ...Option) (*Channel, error) {
	cfg := newConfig(opts)
	fd, err := sock.Listen(addr, port, cfg.Backlog)
	if err != nil {
		return nil, api.NewError(api.ErrCodeBind, "serve", err).
			WithContext("addr", addr).WithContext("port", port)
	}
	c := newChannel(fd, api.RoleListening, cfg)
	c.log.WithFields(logrus.Fields{"fd": fd, "addr": addr, "port": c.Port()}).Debug("listening")
	return c, nil
}

// Connect starts a non-blocking connection to addr:port. The channel is
// Connecting until the handshake resolves; sends and destinations may be
// queued meanwhile.
func Connect(addr string, port int, opts ...Option) (*Channel, error) {
	cfg := newConfig(opts)
	fd, inProgress, err := sock.Connect(addr, port)
	if err != nil {
		return nil, api.NewError(api.ErrCodeConnect, "connect", err).
			WithContext("addr", addr).WithContext("port", port)
	}
	role := api.RoleConnected
	if inProgress {
		role = api.RoleConnecting
	}
	c := newChannel(fd, role, cfg)
	c.peer = net.JoinHostPort(addr, strconv.Itoa(port))
	c.resolved = !inProgress
	c.log.WithFields(logrus.Fields{"fd": fd, "peer": c.peer, "role": role}).Debug("connect")
	return c, nil
}

// Accept takes a pending connection from a listening channel. It should be
// called once the listener is ready; when nothing is pending it fails with
// api.ErrAccept and leaves the listener unaffected.
func (c *Channel) Accept() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != api.RoleListening {
		return nil, c.stateError("accept")
	}
	c.acceptable = false
	fd, peer, err := sock.Accept(c.fd)
	if err != nil {
		return nil, api.NewError(api.ErrCodeAccept, "accept", err)
	}
	n := newChannel(fd, api.RoleConnected, c.cfg)
	n.peer = peer
	n.resolved = true
	n.log.WithFields(logrus.Fields{"fd": fd, "peer": peer}).Debug("accepted")
	return n, nil
}

// Close releases the socket and drops pending transfers without completing
// them. Handles passed to SendStream or StoreStream return to the caller
// untouched. Closing a group member removes it from the group. Close is
// idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g := c.group; g != nil {
		g.forget(c)
	}
	if c.fd < 0 {
		c.role = api.RoleClosed
		return nil
	}
	err := c.release()
	c.log.WithField("fd", c.fd).Debug("closed")
	c.fd = -1
	if err != nil {
		return api.NewError(api.ErrCodeIO, "close", err)
	}
	return nil
}

// release closes the descriptor and drops every queued transfer.
func (c *Channel) release() error {
	if g := c.group; g != nil {
		g.detach(c)
	}
	err := sock.Close(c.fd)
	c.role = api.RoleClosed
	c.unclaimed, c.acceptable = false, false
	c.dropOutbound()
	c.dropInbound()
	c.cfg.Metrics.Add(control.ChannelsClosed, 1)
	return err
}

// fail records err as the channel fault and closes the socket. The first
// Recv reports the fault; later operations report api.ErrState.
func (c *Channel) fail(code api.ErrorCode, op string, err error) {
	if c.fd < 0 {
		return
	}
	e := api.NewError(code, op, err).WithContext("peer", c.peer)
	c.log.WithFields(logrus.Fields{"fd": c.fd, "op": op}).WithError(err).Warn("channel failed")
	c.cfg.Metrics.Add(control.IOErrors, 1)
	_ = c.release()
	c.fd = -1
	c.fault = e
	c.faultSeen = false
}

func (c *Channel) stateError(op string) error {
	e := api.NewError(api.ErrCodeState, op, nil).WithContext("role", c.role.String())
	if c.fault != nil {
		e.Err = c.fault
	}
	return e
}

// Role reports the lifecycle position.
func (c *Channel) Role() api.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// FD returns the socket descriptor, or -1 once closed.
func (c *Channel) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

// Peer returns the remote address, empty for listeners.
func (c *Channel) Peer() string { return c.peer }

// Port returns the bound local port, zero when unknown.
func (c *Channel) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return 0
	}
	_, port, err := sock.LocalAddr(c.fd)
	if err != nil {
		return 0
	}
	return port
}

// Pending reports queued transfers per direction, counting the active one.
func (c *Channel) Pending() (out, in int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingOut(), c.pendingIn()
}

// State reports the slot sub-states of a connected channel.
func (c *Channel) State() (api.OutboundState, api.InboundState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := api.OutIdle
	if c.out != nil {
		o = api.OutSending
	}
	i := api.InIdle
	switch {
	case c.in != nil && c.in.started:
		i = api.InBody
	case c.hdr.Started():
		i = api.InHeader
	}
	return o, i
}

// Err returns the recorded fault, if any, without consuming it.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

func (c *Channel) String() string {
	return "mq#" + strconv.FormatUint(uint64(c.serial), 10)
}
