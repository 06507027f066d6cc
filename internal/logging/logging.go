// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tagged logrus entries shared by every component.

package logging

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var hookOnce sync.Once

// NewLogger returns an entry tagged with the component name. Messages are
// rendered as "[tag]: message".
func NewLogger(tag string) *logrus.Entry {
	hookOnce.Do(func() {
		logrus.AddHook(new(TaggedHook))
	})
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// SetLevel parses and applies a level name such as "debug" or "warn".
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

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
