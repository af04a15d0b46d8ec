//go:build !unix
// +build !unix

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("reactor: this platform is not supported")

// New returns an error for unsupported platforms.
func New() (Reactor, error) {
	return nil, errUnsupported
}

// WaitFD returns an error for unsupported platforms.
func WaitFD(int, FDEventType, time.Duration) (FDEventType, error) {
	return 0, errUnsupported
}
