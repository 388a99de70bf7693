package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProjectResult_JSONFieldNames(t *testing.T) {
	result := ProjectResult{
		ProjectID:   "p1",
		DisplayName: "MSc Robotics",
		SourceTag:   "qs2025",
		RootURL:     "https://uni.example/robotics",
		CrawlTime:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Pages: []PageRecord{
			{URL: "https://uni.example/robotics", Depth: 0, Title: "Robotics", Content: "x", CrawlStatus: CrawlStatusSuccess},
		},
		TotalPages:      1,
		SuccessfulPages: 1,
		Status:          ProjectStatusCompleted,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"project_id", "display_name", "source_tag", "root_url", "crawl_time", "pages",
		"total_pages", "successful_pages", "failed_pages", "skipped_pages", "success_rate", "status",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "completed", raw["status"])

	page := raw["pages"].([]any)[0].(map[string]any)
	for _, key := range []string{"url", "depth", "title", "content", "crawl_status"} {
		assert.Contains(t, page, key)
	}
}

func TestPageRecord_OmitsDiagnostics(t *testing.T) {
	rec := PageRecord{
		URL:             "https://uni.example/a",
		CrawlStatus:     CrawlStatusSuccess,
		ResponseHeaders: map[string]string{"Server": "nginx"},
		ResponsePreview: "<html>",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "http_status")
	assert.NotContains(t, raw, "links")
	assert.NotContains(t, raw, "nginx")
	assert.NotContains(t, raw, "<html>")
}

func TestRunMetadata_YAML(t *testing.T) {
	meta := RunMetadata{
		RunID:         "run-1",
		ProjectsTotal: 2,
		Projects: []ProjectSummary{
			{ProjectID: "p1", Status: ProjectStatusCompleted, TotalPages: 3},
		},
	}

	data, err := yaml.Marshal(meta)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "run_id: run-1")
	assert.Contains(t, out, "projects_total: 2")
	assert.Contains(t, out, "project_id: p1")
	assert.NotContains(t, out, "interrupted")
}
