package storage

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

const untaggedSource = "untagged"

// FailureLogPath returns <logDir>/<tag>/failed_urls_<tag>.json
func FailureLogPath(logDir, sourceTag string) string {
	tag := untaggedSource
	if sourceTag != "" {
		tag = utils.SanitizeFilename(sourceTag)
	}
	return filepath.Join(logDir, tag, fmt.Sprintf("failed_urls_%s.json", tag))
}

// ExportFailures writes one JSON array per source tag under logDir and returns the
// number of entries written per file path. Existing files are replaced.
func ExportFailures(ctx context.Context, store FailureStore, logDir, sourceTag string, log *logrus.Entry) (map[string]int, error) {
	failures, err := store.ListFailures(ctx, sourceTag)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]models.FailedRequest)
	var order []string
	for _, f := range failures {
		path := FailureLogPath(logDir, f.SourceTag)
		if _, ok := grouped[path]; !ok {
			order = append(order, path)
		}
		grouped[path] = append(grouped[path], f)
	}

	written := make(map[string]int, len(grouped))
	for _, path := range order {
		entries := grouped[path]
		if err := writeJSONFile(path, entries); err != nil {
			return written, err
		}
		written[path] = len(entries)
		log.Infof("Exported %d failed requests to %s", len(entries), path)
	}
	if len(order) == 0 {
		log.Info("No failed requests to export.")
	}
	return written, nil
}

// writeJSONFile writes v as indented JSON without HTML escaping, so non-ASCII and
// query strings stay readable
func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, path, err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("%w: encoding '%s': %w", utils.ErrParsing, path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
