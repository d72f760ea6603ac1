package log

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func bufferedEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logrus.NewEntry(logger), &buf
}

var _ badger.Logger = (*BadgerLogger)(nil)

func TestBadgerLogger_DemotesInfo(t *testing.T) {
	entry, buf := bufferedEntry(logrus.InfoLevel)
	l := NewBadgerLogger(entry)

	l.Infof("Replaying file id: %d\n", 1)
	l.Debugf("compaction\n")
	assert.Empty(t, buf.String())

	l.Warningf("value log %s\n", "truncated")
	l.Errorf("cannot open %s\n", "MANIFEST")
	out := buf.String()
	assert.Contains(t, out, `level=warning msg="value log truncated"`)
	assert.Contains(t, out, `level=error msg="cannot open MANIFEST"`)
}

func TestBadgerLogger_DebugLevel(t *testing.T) {
	entry, buf := bufferedEntry(logrus.DebugLevel)
	NewBadgerLogger(entry).Infof("Replaying file id: %d\n", 7)

	assert.Contains(t, buf.String(), `level=debug msg="Replaying file id: 7"`)
}
