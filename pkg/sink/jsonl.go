package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// lineFile is an append-only JSON-lines file shared by the JSONL and chunk sinks
type lineFile struct {
	mu   sync.Mutex
	f    *os.File
	path string
	log  *logrus.Entry
}

// openLineFile appends in resume mode and truncates otherwise
func openLineFile(path, label string, resume bool, log *logrus.Entry) (*lineFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s file '%s': %w", utils.ErrFilesystem, label, path, err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		log.Infof("Resume mode: Appending to %s file: %s", label, path)
		flags |= os.O_APPEND
	} else {
		log.Infof("Non-resume mode: Truncating %s file: %s", label, path)
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s file '%s': %w", utils.ErrFilesystem, label, path, err)
	}
	return &lineFile{f: f, path: path, log: log}, nil
}

// writeLines encodes every value first so a marshal failure writes nothing
func (l *lineFile) writeLines(values ...any) error {
	var data []byte
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encoding line for '%s': %w", utils.ErrParsing, l.path, err)
		}
		data = append(data, b...)
		data = append(data, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("%w: '%s' is closed", utils.ErrFilesystem, l.path)
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, l.path, err)
	}
	return nil
}

func (l *lineFile) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.log.Infof("Syncing and closing %s", l.path)
	syncErr := l.f.Sync()
	closeErr := l.f.Close()
	l.f = nil
	if syncErr != nil {
		return fmt.Errorf("%w: syncing '%s': %w", utils.ErrFilesystem, l.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, l.path, closeErr)
	}
	return nil
}

// JSONLSink appends one line per project to a single file
type JSONLSink struct {
	file *lineFile
}

// NewJSONLSink opens path for project lines
func NewJSONLSink(path string, resume bool, log *logrus.Entry) (*JSONLSink, error) {
	f, err := openLineFile(path, "JSONL", resume, log.WithField("sink", "jsonl"))
	if err != nil {
		return nil, err
	}
	return &JSONLSink{file: f}, nil
}

// Emit implements CompletionSink
func (s *JSONLSink) Emit(ctx context.Context, result *models.ProjectResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.file.writeLines(result)
}

// Close implements CompletionSink
func (s *JSONLSink) Close() error { return s.file.close() }
