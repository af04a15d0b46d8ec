// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// MessageKind tags a framed message on the wire.
type MessageKind uint8

const (
	MsgNone   MessageKind = 0
	MsgBuffer MessageKind = 1
	MsgStream MessageKind = 2
)

func (k MessageKind) String() string {
	switch k {
	case MsgBuffer:
		return "buffer"
	case MsgStream:
		return "stream"
	default:
		return "none"
	}
}

// Valid reports whether k is a kind that may appear on the wire.
func (k MessageKind) Valid() bool { return k == MsgBuffer || k == MsgStream }

// Role enumerates the lifecycle position of a channel.
type Role int

const (
	RoleDisconnected Role = iota
	RoleListening
	RoleConnecting
	RoleConnected
	RoleClosed
)

func (r Role) String() string {
	switch r {
	case RoleListening:
		return "listening"
	case RoleConnecting:
		return "connecting"
	case RoleConnected:
		return "connected"
	case RoleClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// OutboundState is the sub-state of a connected channel's send slot.
type OutboundState int

const (
	OutIdle OutboundState = iota
	OutSending
)

func (s OutboundState) String() string {
	if s == OutSending {
		return "sending"
	}
	return "idle"
}

// InboundState is the sub-state of a connected channel's receive slot.
type InboundState int

const (
	InIdle InboundState = iota
	InHeader
	InBody
)

func (s InboundState) String() string {
	switch s {
	case InHeader:
		return "receiving-header"
	case InBody:
		return "receiving-body"
	default:
		return "idle"
	}
}
