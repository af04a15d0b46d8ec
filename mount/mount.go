// File: mount/mount.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mount

import (
	"errors"
	"strings"
)

// Flags select how a mounted file is cached and when it is transferred.
type Flags uint32

const (
	Cache Flags = 1 << iota
	Watch
	FailureOnly
	SuccessOnly
	RetractOnReset
	Symlink
	Mkdir
)

var flagNames = []string{"cache", "watch", "failure-only", "success-only", "retract-on-reset", "symlink", "mkdir"}

func (f Flags) String() string {
	var parts []string
	for i, n := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// Mount binds a file into a task sandbox.
type Mount struct {
	File       *File
	RemoteName string
	Flags      Flags
	Substitute *File
}

// New clones file and substitute, either of which may be nil, and copies
// the remote name.
func New(file *File, remoteName string, flags Flags, substitute *File) *Mount {
	return &Mount{
		File:       file.Clone(),
		RemoteName: remoteName,
		Flags:      flags,
		Substitute: substitute.Clone(),
	}
}

// Copy returns an equivalent mount holding its own references.
// Copy of nil is nil.
func (m *Mount) Copy() *Mount {
	if m == nil {
		return nil
	}
	return New(m.File, m.RemoteName, m.Flags, m.Substitute)
}

// Delete releases the references held by m. Delete of nil is a no-op.
func (m *Mount) Delete() error {
	if m == nil {
		return nil
	}
	err := errors.Join(m.File.Delete(), m.Substitute.Delete())
	m.File, m.Substitute = nil, nil
	m.RemoteName = ""
	return err
}
