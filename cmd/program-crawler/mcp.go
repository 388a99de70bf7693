package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	applog "github.com/Sriram-PR/program-crawler/pkg/log"
	"github.com/Sriram-PR/program-crawler/pkg/mcp"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: program-crawler mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  program-crawler mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  program-crawler mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  crawl_projects  Start a background crawl over a projects CSV
  get_job_status  Report progress of a crawl job
  cancel_job      Cancel a running crawl job
  get_project     Return the crawled result of one project
  search_pages    Search previously crawled pages
  fetch_page      Fetch a single URL through the crawl pipeline
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log, err := applog.NewLogger(logLevel, applog.FormatText, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return 1
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}
