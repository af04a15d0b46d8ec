// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
//
// Tagged logrus entries. Every component logs through an entry carrying a
// "tag" field which the hook folds into the message prefix.

package logging

import (
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var hookOnce sync.Once

// NewLogger returns an entry on the standard logger tagged with tag.
func NewLogger(tag string) *logrus.Entry {
	hookOnce.Do(func() {
		logrus.AddHook(new(TaggedHook))
	})
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// Discard returns an entry whose output is dropped.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// SetLevel parses and applies a level name to the standard logger.
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}

// TaggedHook moves the tag field into the message as "[tag]: msg".
type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, _ := tagObj.(string)
		delete(entry.Data, "tag")
		entry.Message = strings.ReplaceAll(entry.Message, tag+": ", "")
		entry.Message = "[" + tag + "]: " + entry.Message
	}
	return nil
}
