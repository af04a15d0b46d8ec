// File: mount/file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mount

import (
	"io"

	"code.hybscloud.com/atomix"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/internal/logging"
)

// File is a reference-counted file object. A new File has one holder.
type File struct {
	name   string
	handle io.Closer
	refs   atomix.Uint32
	log    *logrus.Entry
}

// NewFile wraps handle, which may be nil for files known only by name.
func NewFile(name string, handle io.Closer) *File {
	f := &File{name: name, handle: handle, log: logging.NewLogger("mount")}
	f.refs.Add(1)
	return f
}

// Name returns the local name of the file.
func (f *File) Name() string { return f.name }

// Handle returns the underlying handle.
func (f *File) Handle() io.Closer { return f.handle }

// Clone adds a holder and returns f. Clone of nil is nil.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	f.refs.Add(1)
	return f
}

// Delete drops a holder. The handle is closed when the last holder goes.
// Delete of nil is a no-op.
func (f *File) Delete() error {
	if f == nil {
		return nil
	}
	if f.refs.Add(^uint32(0)) != 0 {
		return nil
	}
	f.log.WithField("file", f.name).Debug("released")
	if f.handle == nil {
		return nil
	}
	return f.handle.Close()
}

// Refs reports the current number of holders.
func (f *File) Refs() uint32 { return f.refs.Load() }
