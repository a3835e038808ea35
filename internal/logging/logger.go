package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var hookOnce sync.Once

// Setup configures the process logger. format is text or json.
func Setup(level, format string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	logrus.SetLevel(lvl)

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		hookOnce.Do(func() { logrus.AddHook(new(TaggedHook)) })
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logging format %q must be text|json", format)
	}
	return nil
}

func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}

// TaggedHook moves the tag field into the message prefix for text output.
type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Logger.Formatter.(*logrus.TextFormatter); !ok {
		return nil
	}
	tagObj, loaded := entry.Data["tag"]
	if !loaded {
		return nil
	}
	tag, ok := tagObj.(string)
	if !ok {
		return nil
	}
	delete(entry.Data, "tag")
	entry.Message = "[" + tag + "]: " + strings.TrimPrefix(entry.Message, tag+": ")
	return nil
}
