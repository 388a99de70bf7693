// Package loader reads the project list that feeds the crawl queue.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// Canonical column names
const (
	ColumnID          = "id"
	ColumnDisplayName = "display_name"
	ColumnRootURL     = "root_url"
	ColumnSourceTag   = "source_tag"
)

// columnAliases maps accepted header names to canonical columns
var columnAliases = map[string]string{
	"id":           ColumnID,
	"project_id":   ColumnID,
	"display_name": ColumnDisplayName,
	"program_name": ColumnDisplayName,
	"root_url":     ColumnRootURL,
	"program_url":  ColumnRootURL,
	"source_tag":   ColumnSourceTag,
	"source_file":  ColumnSourceTag,
}

var requiredColumns = []string{ColumnID, ColumnDisplayName, ColumnRootURL, ColumnSourceTag}

// LoadCSV reads projects from the CSV file at path, skipping the first startIndex data rows.
// Any structural problem is fatal and wrapped in ErrProjectLoad. Empty or placeholder
// root URLs are accepted; the orchestrator finalizes such projects with zero pages.
func LoadCSV(path string, startIndex int, log *logrus.Entry) ([]models.Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening '%s': %w", utils.ErrProjectLoad, path, err)
	}
	defer f.Close()

	projects, err := ReadCSV(f, startIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", utils.ErrProjectLoad, path, err)
	}
	log.WithField("projects_file", path).Infof("Loaded %d projects (start index %d)", len(projects), startIndex)
	return projects, nil
}

// ReadCSV parses projects from r. UTF-8 input with or without a byte order mark is accepted.
func ReadCSV(r io.Reader, startIndex int) ([]models.Project, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty CSV, header row missing", utils.ErrParsing)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading CSV header: %w", utils.ErrParsing, err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(header)

	var projects []models.Project
	seen := make(map[string]int)
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading CSV row %d: %w", utils.ErrParsing, row+1, err)
		}
		if row < startIndex {
			continue
		}

		p := models.Project{
			ID:          strings.TrimSpace(rec[index[ColumnID]]),
			DisplayName: strings.TrimSpace(rec[index[ColumnDisplayName]]),
			RootURL:     strings.TrimSpace(rec[index[ColumnRootURL]]),
			SourceTag:   strings.TrimSpace(rec[index[ColumnSourceTag]]),
		}
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("row %d: empty %s", row+1, ColumnID)
		case p.DisplayName == "":
			return nil, fmt.Errorf("row %d: empty %s", row+1, ColumnDisplayName)
		case p.SourceTag == "":
			return nil, fmt.Errorf("row %d: empty %s", row+1, ColumnSourceTag)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("row %d: duplicate id %q (first seen in row %d)", row+1, p.ID, prev)
		}
		seen[p.ID] = row + 1
		projects = append(projects, p)
	}
	return projects, nil
}

// columnIndex maps canonical columns to header positions
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(requiredColumns))
	for i, h := range header {
		canonical, ok := columnAliases[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			continue
		}
		if _, dup := index[canonical]; dup {
			return nil, fmt.Errorf("column %q appears more than once (header %q)", canonical, h)
		}
		index[canonical] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}
