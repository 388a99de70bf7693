package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// RunReport writes the YAML summary of an orchestrator run
type RunReport struct {
	path string
	log  *logrus.Entry
}

// NewRunReport targets path. An empty path disables the report.
func NewRunReport(path string, log *logrus.Entry) *RunReport {
	return &RunReport{path: path, log: log.WithField("sink", "run_report")}
}

// Path returns the report location, empty when disabled
func (r *RunReport) Path() string { return r.path }

// Write marshals meta to the report file, replacing any previous report
func (r *RunReport) Write(meta *models.RunMetadata) error {
	if r == nil || r.path == "" {
		return nil
	}
	r.log.Infof("Preparing to write run report to: %s", r.path)

	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: marshalling run report: %w", utils.ErrParsing, err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, r.path, err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing run report '%s': %w", utils.ErrFilesystem, r.path, err)
	}

	r.log.Infof("Successfully wrote run report (%d projects) to %s", len(meta.Projects), r.path)
	return nil
}
