package log

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Supported log output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds the process logger. An empty format means text.
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		return nil, fmt.Errorf("unknown log format %q (want %s or %s)", format, FormatText, FormatJSON)
	}
	return log, nil
}
