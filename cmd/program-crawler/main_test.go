package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/program-crawler/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", `
num_workers: 4
max_links_per_page: 15
output_base_dir: "./out"
state_dir: "./state"
keyword_whitelist: ["tuition", "apply"]
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 15, cfg.MaxLinksPerPage)
	assert.Equal(t, []string{"tuition", "apply"}, cfg.KeywordWhitelist)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "bad.yaml", "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_ConfigOnly(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", "max_links_per_page: 10\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "OK: config")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_WithProjects(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "projects.csv", "project_id,display_name,root_url,source_tag\n"+
		"p1,MSc Robotics,https://uni.example/robotics,qs\n"+
		"p2,MA History,https://college.example/history,qs\n")
	cfgPath := writeFile(t, dir, "config.yaml", "max_links_per_page: 10\nprojects_file: "+csvPath+"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "2 projects")
}

func TestDoValidate_MissingLinkCap(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", "num_workers: 2\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "max_links_per_page")
}

func TestDoValidate_BadProjectsFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "projects.csv", "project_id,display_name\np1,MSc Robotics\n")
	cfgPath := writeFile(t, dir, "config.yaml", "max_links_per_page: 10\n")

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, csvPath, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoCrawl_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robotics":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>MSc Robotics</title></head><body>
<p>Programme overview</p>
<a href="/robotics/fees">Tuition fees</a>
<a href="/robotics/apply">How to apply</a>
</body></html>`)
		case "/robotics/fees":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>Fees</title></head><body><p>12000 EUR</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	csvPath := writeFile(t, dir, "projects.csv", "project_id,display_name,root_url,source_tag\n"+
		"p1,MSc Robotics,"+srv.URL+"/robotics,qs\n")
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
num_workers: 2
max_retries: 1
initial_retry_delay: 1ms
max_retry_delay: 5ms
max_links_per_page: 10
output_base_dir: %q
state_dir: %q
enable_run_report: true
`, outDir, filepath.Join(dir, "state")))

	var logs bytes.Buffer
	exitCode := doCrawl(context.Background(), crawlOptions{
		ConfigFile:   cfgPath,
		ProjectsFile: csvPath,
		StartIndex:   -1,
		LogLevel:     "warn",
		LogFormat:    "json",
	}, &logs)
	require.Equal(t, 0, exitCode, logs.String())

	data, err := os.ReadFile(filepath.Join(outDir, "qs", "MSc Robotics_qs.json"))
	require.NoError(t, err)
	var res models.ProjectResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, models.ProjectStatusCompleted, res.Status)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 2, res.SuccessfulPages)
	assert.Equal(t, 1, res.FailedPages)

	assert.FileExists(t, filepath.Join(outDir, "run_report.yaml"))
	assert.FileExists(t, filepath.Join(outDir, "qs", "failed_urls_qs.json"))

	// The state DB survives the run, so failures can be exported again on demand
	exportDir := filepath.Join(dir, "export")
	var stdout, stderr bytes.Buffer
	exitCode = doExportFailures(cfgPath, "qs", exportDir, &stdout, &stderr)
	require.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "1 failed requests")
	assert.FileExists(t, filepath.Join(exportDir, "qs", "failed_urls_qs.json"))
}

func TestDoCrawl_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf("max_links_per_page: 10\noutput_base_dir: %q\nstate_dir: %q\n",
		filepath.Join(dir, "out"), filepath.Join(dir, "state")))

	tests := []struct {
		name string
		opts crawlOptions
	}{
		{"invalid log level", crawlOptions{ConfigFile: cfgPath, LogLevel: "loud"}},
		{"missing config", crawlOptions{ConfigFile: filepath.Join(dir, "nope.yaml"), LogLevel: "info"}},
		{"no projects file", crawlOptions{ConfigFile: cfgPath, LogLevel: "info", StartIndex: -1}},
		{"unreadable projects file", crawlOptions{ConfigFile: cfgPath, LogLevel: "info", StartIndex: -1, ProjectsFile: filepath.Join(dir, "missing.csv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			assert.Equal(t, 1, doCrawl(context.Background(), tt.opts, &logs))
		})
	}
}

func TestDoExportFailures_Empty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf("max_links_per_page: 10\noutput_base_dir: %q\nstate_dir: %q\n",
		filepath.Join(dir, "out"), filepath.Join(dir, "state")))

	var stdout, stderr bytes.Buffer
	exitCode := doExportFailures(cfgPath, "", "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "No failed requests")
}

func TestDoMcpServer_InvalidInputs(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 1, doMcpServer(filepath.Join(dir, "nope.yaml"), "stdio", 0, "info", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Error loading config")

	stderr.Reset()
	assert.Equal(t, 1, doMcpServer(filepath.Join(dir, "nope.yaml"), "stdio", 0, "loud", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Invalid log level")

	stderr.Reset()
	cfgPath := writeFile(t, dir, "config.yaml", "num_workers: 2\n")
	assert.Equal(t, 1, doMcpServer(cfgPath, "stdio", 0, "info", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Invalid config")

	stderr.Reset()
	cfgPath = writeFile(t, dir, "ok.yaml", "max_links_per_page: 10\n")
	assert.Equal(t, 1, doMcpServer(cfgPath, "carrier-pigeon", 0, "info", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown transport")
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"crawl", "resume", "validate", "export-failures", "mcp-server", "version"} {
		assert.Contains(t, out, cmd)
	}
}
