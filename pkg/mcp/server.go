package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/crawler"
	"github.com/Sriram-PR/program-crawler/pkg/fetch"
	"github.com/Sriram-PR/program-crawler/pkg/filter"
)

const (
	serverName    = "program-crawler"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig // Must already be validated
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
}

// Server exposes crawl jobs and crawled results as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	pages      *crawler.PageCrawler
	filter     filter.LinkFilter
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	linkFilter, err := filter.NewFromConfig(cfg.AppConfig)
	if err != nil {
		return nil, err
	}

	// fetch_page gets its own HTTP stack so ad-hoc fetches never touch a running job's limits
	throttle := fetch.NewHostThrottle(cfg.AppConfig.MaxRequestsPerHost, cfg.AppConfig.DelayPerHost, cfg.AppConfig.AutoThrottle, log)
	fetcher := fetch.NewFetcher(fetch.NewClient(cfg.AppConfig.HTTPClientSettings, log), cfg.AppConfig, throttle, log)

	s := &Server{
		mcpServer:  server.NewMCPServer(serverName, serverVersion, server.WithLogging()),
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		pages:      crawler.NewPageCrawler(cfg.AppConfig, fetcher, throttle, log, nil),
		filter:     linkFilter,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	crawlTool := mcp.NewTool("crawl_projects",
		mcp.WithDescription("Start a background crawl over a projects CSV file. Returns immediately with a job ID."),
		mcp.WithString("projects_file",
			mcp.Description("Path to the projects CSV (defaults to projects_file from the config)"),
		),
		mcp.WithBoolean("resume",
			mcp.Description("Skip projects completed by an earlier run and append to line outputs"),
		),
		mcp.WithNumber("start_index",
			mcp.Description("Skip the first N data rows of the CSV"),
		),
	)
	s.mcpServer.AddTool(crawlTool, s.handleCrawlProjects)

	statusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and progress of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_projects"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetJobStatus)

	cancelTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running crawl job. The active project is interrupted and not written."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_projects"),
		),
	)
	s.mcpServer.AddTool(cancelTool, s.handleCancelJob)

	projectTool := mcp.NewTool("get_project",
		mcp.WithDescription("Return the crawled result of one project"),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project id from the projects CSV"),
		),
		mcp.WithBoolean("include_content",
			mcp.Description("Include full page content (default: false)"),
		),
	)
	s.mcpServer.AddTool(projectTool, s.handleGetProject)

	searchTool := mcp.NewTool("search_pages",
		mcp.WithDescription("Search crawled pages using case-insensitive text matching"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (case-insensitive substring match)"),
		),
		mcp.WithString("source_tag",
			mcp.Description("Limit search to one source tag (optional)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearchPages)

	fetchTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Fetch a single URL through the crawl pipeline and return its content and keyword-matched links"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
	)
	s.mcpServer.AddTool(fetchTool, s.handleFetchPage)

	s.log.Infof("Registered %d MCP tools", 6)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
