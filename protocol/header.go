// File: protocol/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header encoding and incremental decoding for non-blocking readers.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-mq/api"
)

// Header is the fixed prefix of every message.
type Header struct {
	Kind   api.MessageKind
	Length int64
}

// Encode serializes h into dst and returns the 9 header bytes.
func (h Header) Encode(dst *[HeaderLen]byte) []byte {
	dst[0] = byte(h.Kind)
	binary.BigEndian.PutUint64(dst[KindLen:], uint64(h.Length))
	return dst[:]
}

// Validate checks the kind tag and length bounds.
func (h Header) Validate() error {
	if !h.Kind.Valid() {
		return fmt.Errorf("%w: kind tag %#x", api.ErrBadFrame, byte(h.Kind))
	}
	if h.Length < 0 {
		return fmt.Errorf("%w: negative length %d", api.ErrBadFrame, h.Length)
	}
	return nil
}

// ParseHeader decodes a complete header from raw.
// Returns (header, consumed, error). If raw is short, returns consumed == 0
// and a nil error.
func ParseHeader(raw []byte) (Header, int, error) {
	if len(raw) < HeaderLen {
		return Header{}, 0, nil // Incomplete
	}
	n := binary.BigEndian.Uint64(raw[KindLen:HeaderLen])
	if n > MaxLength {
		return Header{}, 0, fmt.Errorf("%w: length %d out of range", api.ErrBadFrame, n)
	}
	h := Header{Kind: api.MessageKind(raw[0]), Length: int64(n)}
	if err := h.Validate(); err != nil {
		return Header{}, 0, err
	}
	return h, HeaderLen, nil
}

// HeaderDecoder accumulates header bytes across partial reads.
// The zero value is ready to use.
type HeaderDecoder struct {
	buf [HeaderLen]byte
	n   int
}

// Remaining returns the unfilled tail of the header; the caller reads into
// it and reports the count to Advance.
func (d *HeaderDecoder) Remaining() []byte { return d.buf[d.n:] }

// Advance records n newly read bytes. It returns done once all header
// bytes have arrived; the decoder then holds the parsed header.
func (d *HeaderDecoder) Advance(n int) (h Header, done bool, err error) {
	d.n += n
	if d.n < HeaderLen {
		return Header{}, false, nil
	}
	h, _, err = ParseHeader(d.buf[:])
	if err != nil {
		return Header{}, false, err
	}
	return h, true, nil
}

// Started reports whether any header bytes have been consumed.
func (d *HeaderDecoder) Started() bool { return d.n > 0 }

// Reset prepares the decoder for the next message.
func (d *HeaderDecoder) Reset() { d.n = 0 }
