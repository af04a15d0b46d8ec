// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants

package protocol

const (
	// Kind tags
	KindBuffer = 0x1
	KindStream = 0x2

	// Header layout
	KindLen   = 1
	LengthLen = 8
	HeaderLen = KindLen + LengthLen

	// MaxLength bounds the advertised payload length. Lengths above it are
	// treated as corrupt framing.
	MaxLength = 1<<63 - 1
)
