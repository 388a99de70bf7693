package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/loader"
	applog "github.com/Sriram-PR/program-crawler/pkg/log"
	"github.com/Sriram-PR/program-crawler/pkg/orchestrate"
	"github.com/Sriram-PR/program-crawler/pkg/storage"
)

const version = "1.0.0"

// forceExitAfter bounds the graceful shutdown that follows the first signal
const forceExitAfter = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "export-failures":
		runExportFailures(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("program-crawler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `program-crawler - Degree-program page crawler

Usage:
  program-crawler <command> [options]

Commands:
  crawl            Crawl every project in the projects CSV from scratch
  resume           Continue a crawl, skipping projects already completed
  validate         Validate configuration file
  export-failures  Write the failed-request log from the state DB
  mcp-server       Start MCP server for AI tool integration
  version          Show version info

Run 'program-crawler <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads the config file, applies defaults and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// crawlOptions are the command-line settings of crawl and resume
type crawlOptions struct {
	ConfigFile   string
	ProjectsFile string
	StartIndex   int // Negative keeps the configured value
	LogLevel     string
	LogFormat    string
	PprofAddr    string
	Resume       bool
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	opts := crawlOptions{Resume: isResume}
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.ProjectsFile, "projects", "", "Projects CSV (overrides projects_file from config)")
	fs.IntVar(&opts.StartIndex, "start-index", -1, "Skip the first N data rows of the CSV (overrides start_index)")
	fs.StringVar(&opts.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&opts.LogFormat, "logformat", applog.FormatText, "Log format (text, json)")
	fs.StringVar(&opts.PprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: program-crawler %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  program-crawler %s -config config.yaml\n", cmdName)
		fmt.Fprintf(os.Stderr, "  program-crawler %s -projects programs.csv -start-index 500\n", cmdName)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		fmt.Fprintf(os.Stderr, "Received signal: %v. Initiating graceful shutdown...\n", sig)
		cancel()

		select {
		case sig = <-sigChan:
			fmt.Fprintf(os.Stderr, "Received second signal: %v. Forcing exit.\n", sig)
			os.Exit(1)
		case <-time.After(forceExitAfter):
			fmt.Fprintln(os.Stderr, "Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	os.Exit(doCrawl(ctx, opts, os.Stderr))
}

// doCrawl runs a full crawl and returns the exit code. Logs go to logOut.
func doCrawl(ctx context.Context, opts crawlOptions, logOut io.Writer) int {
	log, err := applog.NewLogger(opts.LogLevel, opts.LogFormat, logOut)
	if err != nil {
		fmt.Fprintf(logOut, "Error: %v\n", err)
		return 1
	}

	appCfg, err := loadAndValidateConfig(opts.ConfigFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	if opts.ProjectsFile != "" {
		appCfg.ProjectsFile = opts.ProjectsFile
	}
	if opts.StartIndex >= 0 {
		appCfg.StartIndex = opts.StartIndex
	}
	if appCfg.ProjectsFile == "" {
		log.Error("No projects file: set projects_file in the config or pass -projects")
		return 1
	}
	logAppConfig(appCfg, log)

	if opts.PprofAddr != "" {
		runtime.SetBlockProfileRate(1000)
		runtime.SetMutexProfileFraction(1000)
		startPprof(opts.PprofAddr, log)
	}

	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, appCfg.GlobalCrawlTimeout)
		defer cancel()
	}

	logEntry := log.WithField("component", "crawl")

	projects, err := loader.LoadCSV(appCfg.ProjectsFile, appCfg.StartIndex, logEntry)
	if err != nil {
		log.Errorf("Failed to load projects: %v", err)
		return 1
	}

	pipeline, err := orchestrate.NewPipeline(appCfg, projects, opts.Resume, appCfg.ProjectsFile, logEntry)
	if err != nil {
		log.Errorf("Failed to initialize crawl: %v", err)
		return 1
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			log.Errorf("Error closing crawl resources: %v", err)
		}
	}()

	_, err = pipeline.Run(ctx)

	// The failure log is useful after an interrupted run too, so export under a fresh context
	if _, exportErr := storage.ExportFailures(context.Background(), pipeline.Store(), appCfg.OutputBaseDir, "", logEntry); exportErr != nil {
		log.Errorf("Failed to export failed-request log: %v", exportErr)
	}

	switch {
	case err == nil:
		log.Info("Crawl completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Crawl cancelled gracefully. Run 'resume' to continue.")
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Crawl timed out (global timeout).")
		return 1
	default:
		log.Errorf("Crawl finished with error: %v", err)
		return 1
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	projectsFile := fs.String("projects", "", "Also check this projects CSV (defaults to projects_file from config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: program-crawler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *projectsFile, os.Stdout, os.Stderr))
}

// doValidate checks the config and, when one is known, the projects CSV.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, projectsFile string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: config (workers: %d, max links per page: %d, discovery depth: %d)\n",
		appCfg.NumWorkers, appCfg.MaxLinksPerPage, appCfg.DiscoveryDepth())

	if projectsFile == "" {
		projectsFile = appCfg.ProjectsFile
	}
	if projectsFile != "" {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		projects, err := loader.LoadCSV(projectsFile, appCfg.StartIndex, logrus.NewEntry(discard))
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "OK: %s (%d projects from index %d)\n", projectsFile, len(projects), appCfg.StartIndex)
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runExportFailures handles the export-failures subcommand
func runExportFailures(args []string) {
	fs := flag.NewFlagSet("export-failures", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceTag := fs.String("source", "", "Only export failures of this source tag")
	outDir := fs.String("out", "", "Directory to write to (defaults to output_base_dir)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: program-crawler export-failures [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doExportFailures(*configFile, *sourceTag, *outDir, os.Stdout, os.Stderr))
}

// doExportFailures writes the failed-request log of the last run from the state DB.
func doExportFailures(configPath, sourceTag, outDir string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if outDir == "" {
		outDir = appCfg.OutputBaseDir
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)
	entry := log.WithField("component", "export")

	// resume=true opens the existing state instead of wiping it
	store, err := storage.NewBadgerStore(appCfg.StateDir, true, entry)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	written, err := storage.ExportFailures(context.Background(), store, outDir, sourceTag, entry)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(written) == 0 {
		fmt.Fprintln(stdout, "No failed requests recorded.")
		return 0
	}
	for path, n := range written {
		fmt.Fprintf(stdout, "%s: %d failed requests\n", path, n)
	}
	return 0
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: Workers:%d, MaxReqs:%d, MaxReqPerHost:%d, DelayPerHost:%v, AutoThrottle:%t",
		appCfg.NumWorkers, appCfg.MaxRequests, appCfg.MaxRequestsPerHost, appCfg.DelayPerHost, appCfg.AutoThrottle.Enabled)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, Retry:%v, Allowed:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, appCfg.RetryStatusCodes, appCfg.AllowedStatusCodes)
	log.Infof("Config Policy: Depth:%d, MaxLinksPerPage:%d, MaxChildFetches:%d, SameOriginOnly:%t, Keywords:%d, Format:%s",
		appCfg.DiscoveryDepth(), appCfg.MaxLinksPerPage, appCfg.MaxChildFetches, appCfg.IsSameOriginOnly(),
		len(appCfg.KeywordWhitelist), appCfg.ContentFormat)
	log.Infof("Config Timeouts: SemaphoreAcquire:%v, GlobalCrawl:%v, PerPage:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.GlobalCrawlTimeout, appCfg.PerPageTimeout)
	log.Infof("Config Output: Dir:%s, StateDir:%s, JSONL:%t, Chunks:%t, RunReport:%t",
		appCfg.OutputBaseDir, appCfg.StateDir, appCfg.EnableJSONL, appCfg.Chunking.Enabled, appCfg.EnableRunReport)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
