package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/program-crawler/pkg/loader"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/program-crawler/pkg/parse"
	"github.com/Sriram-PR/program-crawler/pkg/process"
)

const progressPollInterval = time.Second

// errStopWalk ends a result scan early
var errStopWalk = errors.New("stop walk")

// handleCrawlProjects handles the crawl_projects tool
func (s *Server) handleCrawlProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectsFile := request.GetString("projects_file", s.cfg.AppConfig.ProjectsFile)
	if projectsFile == "" {
		return mcp.NewToolResultError("projects_file parameter is required (none configured)"), nil
	}
	resume := request.GetBool("resume", false)
	startIndex := request.GetInt("start_index", s.cfg.AppConfig.StartIndex)
	if startIndex < 0 {
		return mcp.NewToolResultError("start_index cannot be negative"), nil
	}

	if active := s.jobManager.ActiveJob(); active != nil {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress",
			"job_id":  active.ID,
		})), nil
	}

	projects, err := loader.LoadCSV(projectsFile, startIndex, s.log)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, created := s.jobManager.CreateJob(projectsFile, resume, len(projects))
	if !created {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress",
			"job_id":  job.ID,
		})), nil
	}

	go s.runCrawlJob(job.ID, projects, projectsFile, resume)

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status":         "started",
		"message":        "Crawl started successfully",
		"job_id":         job.ID,
		"projects_file":  projectsFile,
		"projects_total": len(projects),
		"resume":         resume,
	})), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"projects_file":   job.ProjectsFile,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"projects_total":  job.ProjectsTotal,
		"projects_done":   job.ProjectsDone,
		"pending_fetches": job.PendingFetches,
		"pages_total":     job.PagesTotal,
		"resume":          job.Resume,
	}
	if job.CurrentProject != "" {
		result["current_project"] = job.CurrentProject
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	cancelled := s.jobManager.CancelJob(jobID)
	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": cancelled,
		"status":    s.jobManager.GetJob(jobID).Status,
	}
	if !cancelled {
		result["message"] = fmt.Sprintf("job is already %s", job.Status)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetProject handles the get_project tool
func (s *Server) handleGetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := request.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("project_id parameter is required"), nil
	}
	includeContent := request.GetBool("include_content", false)

	var found *models.ProjectResult
	var foundPath string
	err := walkResults(ctx, s.cfg.AppConfig.OutputBaseDir, func(path string, r *models.ProjectResult) error {
		if r.ProjectID == projectID {
			found, foundPath = r, path
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to scan results: %v", err)), nil
	}
	if found == nil {
		return mcp.NewToolResultError(fmt.Sprintf("project '%s' has no crawled result", projectID)), nil
	}

	pages := make([]map[string]interface{}, 0, len(found.Pages))
	for _, p := range found.Pages {
		page := map[string]interface{}{
			"url":            p.URL,
			"depth":          p.Depth,
			"title":          p.Title,
			"crawl_status":   p.CrawlStatus,
			"content_length": len([]rune(p.Content)),
		}
		if p.HTTPStatus != 0 {
			page["http_status"] = p.HTTPStatus
		}
		if p.ErrorType != "" {
			page["error_type"] = p.ErrorType
		}
		if includeContent {
			page["content"] = p.Content
		}
		pages = append(pages, page)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"project_id":       found.ProjectID,
		"display_name":     found.DisplayName,
		"source_tag":       found.SourceTag,
		"root_url":         found.RootURL,
		"crawl_time":       found.CrawlTime.Format(time.RFC3339),
		"status":           found.Status,
		"total_pages":      found.TotalPages,
		"successful_pages": found.SuccessfulPages,
		"failed_pages":     found.FailedPages,
		"skipped_pages":    found.SkippedPages,
		"success_rate":     found.SuccessRate,
		"output_path":      foundPath,
		"pages":            pages,
	})), nil
}

// handleSearchPages handles the search_pages tool
func (s *Server) handleSearchPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	sourceTag := request.GetString("source_tag", "")
	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	results, err := s.searchPages(ctx, query, sourceTag, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to scan results: %v", err)), nil
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       results,
		"total_matches": len(results),
	}
	if sourceTag != "" {
		response["source_tag"] = sourceTag
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFetchPage handles the fetch_page tool
func (s *Server) handleFetchPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urlStr := request.GetString("url", "")
	if urlStr == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	if _, _, err := parse.ParseAndNormalize(urlStr); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid url: %v", err)), nil
	}

	start := time.Now()
	res := s.pages.Process(ctx, models.FetchTask{URL: urlStr}, s.log)
	rec := res.Record
	if rec.CrawlStatus == models.CrawlStatusFailed {
		return mcp.NewToolResultError(fmt.Sprintf("fetch failed (%s): %s", rec.ErrorType, rec.Error)), nil
	}

	links := make([]map[string]interface{}, 0)
	for _, l := range res.Links {
		if kw, ok := s.filter.Admit(l.URL, l.AnchorText); ok {
			links = append(links, map[string]interface{}{
				"url":             l.URL,
				"anchor_text":     l.AnchorText,
				"matched_keyword": kw,
			})
		}
	}

	result := map[string]interface{}{
		"url":            rec.URL,
		"title":          rec.Title,
		"content":        rec.Content,
		"content_format": s.cfg.AppConfig.ContentFormat,
		"crawl_status":   rec.CrawlStatus,
		"http_status":    rec.HTTPStatus,
		"links_found":    len(res.Links),
		"matched_links":  links,
		"fetch_time_ms":  time.Since(start).Milliseconds(),
	}
	if rec.TokenCount > 0 {
		result["token_count"] = rec.TokenCount
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCrawlJob runs a crawl job in the background
func (s *Server) runCrawlJob(jobID string, projects []models.Project, projectsFile string, resume bool) {
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithField("job_id", jobID)

	pipeline, err := orchestrate.NewPipeline(s.cfg.AppConfig, projects, resume, projectsFile, jobLog)
	if err != nil {
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, fmt.Sprintf("failed to set up crawl: %v", err))
		return
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			jobLog.Errorf("Error closing crawl resources: %v", err)
		}
	}()
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.jobManager.UpdateProgress(jobID, jobProgress(pipeline.Orchestrator.Progress(), 0))
			}
		}
	}()

	meta, err := pipeline.Run(jobCtx)
	close(done)
	if meta != nil {
		s.jobManager.UpdateProgress(jobID, jobProgress(pipeline.Orchestrator.Progress(), meta.PagesTotal))
	}

	switch {
	case errors.Is(err, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	case err != nil:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	}
}

func jobProgress(p orchestrate.Progress, pagesTotal int) JobProgress {
	return JobProgress{
		ProjectsDone:   p.ProjectsDone,
		CurrentProject: p.ProjectID,
		PendingFetches: p.Pending,
		PagesTotal:     pagesTotal,
	}
}

// searchPages scans written project results for pages matching query
func (s *Server) searchPages(ctx context.Context, query, sourceTag string, maxResults int) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0)
	queryLower := strings.ToLower(query)
	format := s.cfg.AppConfig.ContentFormat

	err := walkResults(ctx, s.cfg.AppConfig.OutputBaseDir, func(_ string, r *models.ProjectResult) error {
		if sourceTag != "" && r.SourceTag != sourceTag {
			return nil
		}
		for _, page := range r.Pages {
			if page.CrawlStatus != models.CrawlStatusSuccess {
				continue
			}

			matchLocation := ""
			switch {
			case strings.Contains(strings.ToLower(page.Title), queryLower):
				matchLocation = "title"
			case strings.Contains(strings.ToLower(page.Content), queryLower):
				matchLocation = "content"
			default:
				for _, heading := range process.ContentHeadings(page.Content, format) {
					if strings.Contains(strings.ToLower(heading), queryLower) {
						matchLocation = "headings"
						break
					}
				}
			}
			if matchLocation == "" {
				continue
			}

			results = append(results, map[string]interface{}{
				"project_id":     r.ProjectID,
				"display_name":   r.DisplayName,
				"source_tag":     r.SourceTag,
				"url":            page.URL,
				"title":          page.Title,
				"snippet":        extractSnippet(page.Content, query, 150),
				"match_location": matchLocation,
			})
			if len(results) >= maxResults {
				return errStopWalk
			}
		}
		return nil
	})
	return results, err
}

// walkResults decodes every project result file under baseDir in lexical order.
// Files that are not project results are skipped. fn may return errStopWalk to end early.
func walkResults(ctx context.Context, baseDir string, fn func(path string, r *models.ProjectResult) error) error {
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || filepath.Ext(path) != ".json" || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var r models.ProjectResult
		if json.Unmarshal(data, &r) != nil || r.ProjectID == "" {
			return nil
		}
		return fn(path, &r)
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := idx - maxLen/2
	if start < 0 {
		start = 0
	}
	end := idx + len(queryRunes) + maxLen/2
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
