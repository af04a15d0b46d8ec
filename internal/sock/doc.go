// File: internal/sock/doc.go
// Package sock
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP socket primitives on raw descriptors. Every descriptor
// created here is O_NONBLOCK and close-on-exec; callers own it and must
// Close it.
package sock
