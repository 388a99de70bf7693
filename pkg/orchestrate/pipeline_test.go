package orchestrate

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/models"
)

func TestPipeline_EndToEndAndResume(t *testing.T) {
	s := newSite(t, map[string]http.HandlerFunc{
		"/program": serveHTML(http.StatusOK, htmlPage("MSc Robotics", `
<a href="/fees">Tuition fees</a>
<a href="/missing">Application deadline</a>`)),
		"/fees": childPage("Fees"),
	})
	dir := t.TempDir()
	cfg := testConfig(t, func(c *config.AppConfig) {
		c.OutputBaseDir = filepath.Join(dir, "out")
		c.StateDir = filepath.Join(dir, "state")
		c.EnableJSONL = true
		c.EnableRunReport = true
	})
	projects := []models.Project{
		{ID: "p1", DisplayName: "MSc Robotics", RootURL: s.URL + "/program", SourceTag: "qs"},
		{ID: "p2", DisplayName: "MA History", RootURL: "N/A", SourceTag: "qs"},
	}

	p, err := NewPipeline(cfg, projects, false, "projects.csv", testLogger())
	require.NoError(t, err)
	meta, err := p.Run(context.Background())
	require.NoError(t, err)

	failures, err := p.Store().ListFailures(context.Background(), "qs")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].URL, "/missing")
	assert.Equal(t, "HTTP_404", failures[0].ErrorType)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, 2, meta.ProjectsCompleted)
	assert.Equal(t, 3, meta.PagesTotal)
	assert.Equal(t, "projects.csv", meta.InputFile)

	data, err := os.ReadFile(filepath.Join(cfg.OutputBaseDir, "qs", "MSc Robotics_qs.json"))
	require.NoError(t, err)
	var res models.ProjectResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 2, res.SuccessfulPages)
	assert.Equal(t, 1, res.FailedPages)

	assert.FileExists(t, filepath.Join(cfg.OutputBaseDir, "qs", "MA History_qs.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputBaseDir, "projects.jsonl"))

	reportData, err := os.ReadFile(filepath.Join(cfg.OutputBaseDir, "run_report.yaml"))
	require.NoError(t, err)
	var report models.RunMetadata
	require.NoError(t, yaml.Unmarshal(reportData, &report))
	assert.Equal(t, meta.RunID, report.RunID)
	require.Len(t, report.Projects, 2)
	assert.Equal(t, filepath.Join(cfg.OutputBaseDir, "qs", "MSc Robotics_qs.json"), report.Projects[0].OutputPath)

	hits := s.Hits("/program")

	// A resumed run skips both completed projects
	p, err = NewPipeline(cfg, projects, true, "projects.csv", testLogger())
	require.NoError(t, err)
	defer p.Close()
	meta, err = p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, meta.ProjectsSkipped)
	assert.Zero(t, meta.ProjectsCompleted)
	assert.Equal(t, hits, s.Hits("/program"))
}
