package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogger routes badger's internal logging to logrus. Badger's info
// output (compactions, value log replay) is logged at debug level so that a
// crawl at info level only shows the unit store's own messages.
type BadgerLogger struct {
	entry *logrus.Entry
}

func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry}
}

// badger terminates its messages with a newline
func trim(f string) string { return strings.TrimRight(f, "\n") }

func (l *BadgerLogger) Errorf(f string, v ...any)   { l.entry.Errorf(trim(f), v...) }
func (l *BadgerLogger) Warningf(f string, v ...any) { l.entry.Warnf(trim(f), v...) }
func (l *BadgerLogger) Infof(f string, v ...any)    { l.entry.Debugf(trim(f), v...) }
func (l *BadgerLogger) Debugf(f string, v ...any)   { l.entry.Tracef(trim(f), v...) }
