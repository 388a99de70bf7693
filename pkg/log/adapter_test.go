package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	return logrus.NewEntry(logger), &buf
}

func TestBadgerLogrusAdapter_DemotesInfo(t *testing.T) {
	entry, buf := bufferedEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Infof("compaction %d", 3)
	adapter.Debugf("debug")
	assert.Empty(t, buf.String(), "badger info and debug must be hidden at info level")

	adapter.Warningf("warning %d", 42)
	adapter.Errorf("error %s", "boom")
	out := buf.String()
	assert.Contains(t, out, "warning 42")
	assert.Contains(t, out, "error boom")
}

func TestBadgerLogrusAdapter_DebugLevel(t *testing.T) {
	entry, buf := bufferedEntry(logrus.DebugLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Infof("value log gc")
	assert.Contains(t, buf.String(), "level=debug")
	assert.Contains(t, buf.String(), "value log gc")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	log.Debug("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("info", "JSON", &buf)
	require.NoError(t, err)

	log.WithField("project_id", "p1").Info("started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "started", line["msg"])
	assert.Equal(t, "p1", line["project_id"])
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewLogger("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}
