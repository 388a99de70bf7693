package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// JSONFileSink writes each project as a pretty-printed JSON document under
// <baseDir>/<source_tag>/<display name>_<source_tag>.json
type JSONFileSink struct {
	baseDir string
	log     *logrus.Entry
}

// NewJSONFileSink creates a sink rooted at baseDir
func NewJSONFileSink(baseDir string, log *logrus.Entry) *JSONFileSink {
	return &JSONFileSink{baseDir: baseDir, log: log.WithField("sink", "json")}
}

// PathFor returns the file a result is written to
func (s *JSONFileSink) PathFor(result *models.ProjectResult) string {
	tag := utils.SanitizeFilename(result.SourceTag)
	name := fmt.Sprintf("%s_%s.json", utils.SanitizeProjectName(result.DisplayName), tag)
	return filepath.Join(s.baseDir, tag, name)
}

// Emit writes the result through a temp file and rename, so readers never see a partial document
func (s *JSONFileSink) Emit(ctx context.Context, result *models.ProjectResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.PathFor(result)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating output directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("%w: encoding project %s: %w", utils.ErrParsing, result.ProjectID, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming to '%s': %w", utils.ErrFilesystem, path, err)
	}

	s.log.WithField("project_id", result.ProjectID).Infof("Wrote %d pages to %s", result.TotalPages, path)
	return nil
}

// Close implements CompletionSink
func (s *JSONFileSink) Close() error { return nil }
