// File: mq/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PollGroup multiplexes readiness over many channels with one reactor.

package mq

import (
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/internal/logging"
	"github.com/momentics/hioload-mq/reactor"
)

// PollGroup holds non-owning references to channels and reports which of
// them are ready. A channel belongs to at most one group; closing it
// removes it. A PollGroup is not safe for concurrent use, and members must
// not be closed from another goroutine while Wait runs.
type PollGroup struct {
	r       reactor.Reactor
	members mapset.Set[*Channel]
	byFD    map[int]*Channel
	fired   map[int]reactor.FDEventType
	events  []reactor.Event
	ready   []*Channel
	log     *logrus.Entry
	closed  bool

	collecting bool // a member send is draining a descriptor source
}

// NewPollGroup creates an empty group backed by the platform reactor.
func NewPollGroup() (*PollGroup, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, api.NewError(api.ErrCodeIO, "poll group", err)
	}
	return &PollGroup{
		r:       r,
		members: mapset.New[*Channel](),
		byFD:    make(map[int]*Channel),
		fired:   make(map[int]reactor.FDEventType),
		events:  make([]reactor.Event, 64),
		log:     logging.NewLogger("mq-poll"),
	}, nil
}

// Add makes c a member. It fails with api.ErrDuplicateMember if c is
// already in g and api.ErrCrossGroup if c is in another group.
func (g *PollGroup) Add(c *Channel) error {
	if g.closed {
		return api.NewError(api.ErrCodeState, "poll add", nil)
	}
	if g.members.Has(c) {
		return api.NewError(api.ErrCodeDuplicateMember, "poll add", nil).WithContext("channel", c.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group != nil {
		return api.NewError(api.ErrCodeCrossGroup, "poll add", nil).WithContext("channel", c.String())
	}
	if c.role == api.RoleClosed || c.fd < 0 {
		return c.stateError("poll add")
	}
	c.group = g
	c.armed = armedState{}
	if err := g.arm(c); err != nil {
		c.group = nil
		return api.NewError(api.ErrCodeIO, "poll add", err)
	}
	g.members.Add(c)
	return nil
}

// Remove drops c from the group. Removing a non-member is a no-op.
func (g *PollGroup) Remove(c *Channel) {
	if !g.members.Has(c) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g.forget(c)
}

// Len reports the number of members.
func (g *PollGroup) Len() int { return g.members.Len() }

// Wait drives every member and blocks until at least one is ready or the
// deadline passes. It returns the number of ready members, zero on
// timeout; Ready lists them. A member that failed counts as ready until
// its failure is observed with Recv. A zero or past deadline polls once.
func (g *PollGroup) Wait(deadline time.Time) (int, error) {
	if g.closed {
		return 0, api.NewError(api.ErrCodeState, "poll wait", nil)
	}
	for {
		g.ready = g.ready[:0]
		g.collecting = false
		for c := range g.members {
			if err := g.visit(c); err != nil {
				return 0, api.NewError(api.ErrCodeIO, "poll wait", err).WithContext("channel", c.String())
			}
		}
		if len(g.ready) > 0 {
			return len(g.ready), nil
		}
		timeout := reactor.Until(deadline)
		if timeout == 0 {
			return 0, nil
		}
		if g.collecting {
			timeout = min(timeout, collectInterval)
		}
		n, err := g.r.Wait(g.events, timeout)
		if err != nil {
			return 0, api.NewError(api.ErrCodeIO, "poll wait", err)
		}
		for _, ev := range g.events[:n] {
			if _, ok := g.byFD[ev.Fd]; ok {
				g.fired[ev.Fd] |= ev.Events
			}
		}
		if n == len(g.events) {
			g.events = make([]reactor.Event, 2*n)
		}
	}
}

// visit drives one member, records its readiness and re-arms its
// interest.
func (g *PollGroup) visit(c *Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ev reactor.FDEventType
	if c.fd >= 0 {
		ev = g.fired[c.fd]
		delete(g.fired, c.fd)
	}
	c.drive(ev)
	if c.ready() {
		g.ready = append(g.ready, c)
	}
	g.collecting = g.collecting || c.collecting()
	if c.fd < 0 {
		return nil
	}
	return g.arm(c)
}

// arm registers or updates the reactor interest of c. Callers hold c.mu.
func (g *PollGroup) arm(c *Channel) error {
	want := c.interest()
	if c.armed.valid {
		if c.armed.events == want {
			return nil
		}
		if err := g.r.Modify(c.fd, want); err != nil {
			return err
		}
		c.armed.events = want
		return nil
	}
	if err := g.r.Register(c.fd, want); err != nil {
		return err
	}
	g.byFD[c.fd] = c
	c.armed = armedState{events: want, valid: true}
	return nil
}

// Ready returns the members found ready by the last Wait.
func (g *PollGroup) Ready() []*Channel {
	out := make([]*Channel, len(g.ready))
	copy(out, g.ready)
	return out
}

// Close releases the reactor and forgets every member. Member channels
// stay open.
func (g *PollGroup) Close() error {
	if g.closed {
		return nil
	}
	for c := range g.members {
		c.mu.Lock()
		g.forget(c)
		c.mu.Unlock()
	}
	g.closed = true
	g.ready = nil
	if err := g.r.Close(); err != nil {
		return api.NewError(api.ErrCodeIO, "poll close", err)
	}
	return nil
}

// detach removes c's descriptor from the reactor before it is closed.
// Membership is kept so a failure can still be reported. Callers hold c.mu.
func (g *PollGroup) detach(c *Channel) {
	if !c.armed.valid {
		return
	}
	if err := g.r.Unregister(c.fd); err != nil {
		g.log.WithField("fd", c.fd).WithError(err).Debug("unregister")
	}
	delete(g.byFD, c.fd)
	delete(g.fired, c.fd)
	c.armed = armedState{}
}

// forget detaches c and ends its membership. Callers hold c.mu.
func (g *PollGroup) forget(c *Channel) {
	g.detach(c)
	g.members.Remove(c)
	for i, r := range g.ready {
		if r == c {
			g.ready = append(g.ready[:i], g.ready[i+1:]...)
			break
		}
	}
	c.group = nil
}
