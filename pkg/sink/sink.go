// Package sink writes finished projects to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// CompletionSink consumes the aggregated result of a finalized project
type CompletionSink interface {
	Emit(ctx context.Context, result *models.ProjectResult) error
	Close() error
}

// PathReporter is implemented by sinks that write one file per project
type PathReporter interface {
	PathFor(result *models.ProjectResult) string
}

// MultiSink fans a result out to several sinks. Every sink is attempted; errors are joined.
type MultiSink struct {
	sinks []CompletionSink
}

// NewMultiSink wraps sinks in emission order
func NewMultiSink(sinks ...CompletionSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit implements CompletionSink
func (m *MultiSink) Emit(ctx context.Context, result *models.ProjectResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: project %s: %w", utils.ErrSink, result.ProjectID, errors.Join(errs...))
	}
	return nil
}

// PathFor returns the path reported by the first sink that writes per-project files
func (m *MultiSink) PathFor(result *models.ProjectResult) string {
	for _, s := range m.sinks {
		if pr, ok := s.(PathReporter); ok {
			return pr.PathFor(result)
		}
	}
	return ""
}

// Close implements CompletionSink
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig builds the sinks enabled in a validated config.
// The per-project JSON sink is always present. In resume mode line-oriented files are appended to.
func NewFromConfig(cfg *config.AppConfig, resume bool, log *logrus.Entry) (*MultiSink, error) {
	sinks := []CompletionSink{NewJSONFileSink(cfg.OutputBaseDir, log)}

	if cfg.EnableJSONL {
		s, err := NewJSONLSink(filepath.Join(cfg.OutputBaseDir, cfg.JSONLFilename), resume, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	} else {
		log.Info("JSONL output is disabled.")
	}

	if cfg.Chunking.Enabled {
		s, err := NewChunkSink(filepath.Join(cfg.OutputBaseDir, cfg.Chunking.Filename), cfg.ContentFormat, cfg.Chunking, resume, log)
		if err != nil {
			m := NewMultiSink(sinks...)
			_ = m.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	} else {
		log.Info("Chunking output is disabled.")
	}

	return NewMultiSink(sinks...), nil
}
