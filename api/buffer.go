// Package api
// Author: momentics
//
// Byte sink and source contracts used by channel destinations and sends.

package api

// ByteSink is an append-only destination for an inbound buffer message.
// core/buffer.Buffer satisfies it.
type ByteSink interface {
	// Append copies p to the end of the sink.
	Append(p []byte)

	// Len reports the number of bytes held.
	Len() int
}

// ByteSource exposes the bytes of a buffer to be sent.
type ByteSource interface {
	// Bytes returns a view of the current contents.
	Bytes() []byte
}
