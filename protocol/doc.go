// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Message framing for channels. Each message on the wire is a 9-byte header
// followed by exactly Length payload bytes:
//
//	+------+----------------------------+-------------------+
//	| kind | length (uint64, big-endian)| payload (length)  |
//	+------+----------------------------+-------------------+
//
// Kind 1 carries a memory buffer, kind 2 the contents of a stream. A zero
// length is valid for both and means an empty payload.
package protocol
