// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Growable byte buffer used as the in-memory source and sink of buffer messages.

package buffer

import (
	"fmt"
	"unsafe"
)

// Buffer is an append-only byte buffer. The zero value is ready to use.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
}

// New returns a buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromString returns a buffer holding a copy of s.
func FromString(s string) *Buffer {
	b := New(len(s))
	b.AppendString(s)
	return b
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// AppendString copies s to the end of the buffer.
func (b *Buffer) AppendString(s string) {
	b.data = append(b.data, s...)
}

// Appendf appends formatted text.
func (b *Buffer) Appendf(format string, args ...any) {
	b.data = fmt.Appendf(b.data, format, args...)
}

// Bytes returns a view of the contents, valid until the next mutation.
func (b *Buffer) Bytes() []byte { return b.data }

// String returns the contents as a string view without copying. The view
// must not be retained across later appends.
func (b *Buffer) String() string {
	if len(b.data) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b.data), len(b.data))
}

// Len reports the number of bytes held.
func (b *Buffer) Len() int { return len(b.data) }

// Reset empties the buffer, keeping its storage.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Free drops the storage.
func (b *Buffer) Free() { b.data = nil }
