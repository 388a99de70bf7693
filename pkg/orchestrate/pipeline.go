package orchestrate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/crawler"
	"github.com/Sriram-PR/program-crawler/pkg/fetch"
	"github.com/Sriram-PR/program-crawler/pkg/filter"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/queue"
	"github.com/Sriram-PR/program-crawler/pkg/sink"
	"github.com/Sriram-PR/program-crawler/pkg/storage"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

const (
	gcInterval       = 10 * time.Minute
	evictionInterval = 5 * time.Minute
)

// Pipeline owns every resource a run needs: state store, sinks, HTTP stack and orchestrator
type Pipeline struct {
	Orchestrator *Orchestrator
	store        *storage.BadgerStore
	sinks        *sink.MultiSink
	throttle     *fetch.HostThrottle
	resume       bool
	log          *logrus.Entry
	closeOnce    sync.Once
	closeErr     error
}

// NewPipeline wires a run over projects. cfg must already be validated.
// Without resume the state store and line-oriented outputs start empty.
func NewPipeline(cfg *config.AppConfig, projects []models.Project, resume bool, inputFile string, log *logrus.Entry) (*Pipeline, error) {
	store, err := storage.NewBadgerStore(cfg.StateDir, resume, log)
	if err != nil {
		return nil, err
	}

	sinks, err := sink.NewFromConfig(cfg, resume, log)
	if err != nil {
		store.Close()
		return nil, utils.WrapErrorf(err, "opening output sinks in %s", cfg.OutputBaseDir)
	}

	linkFilter, err := filter.NewFromConfig(cfg)
	if err != nil {
		sinks.Close()
		store.Close()
		return nil, utils.WrapErrorf(err, "building link filter")
	}

	throttle := fetch.NewHostThrottle(cfg.MaxRequestsPerHost, cfg.DelayPerHost, cfg.AutoThrottle, log.WithField("component", "throttle"))
	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(client, cfg, throttle, log.WithField("component", "fetcher"))
	pageCrawler := crawler.NewPageCrawler(cfg, fetcher, throttle, log.WithField("component", "crawler"), nil)

	var report *sink.RunReport
	if cfg.EnableRunReport {
		report = sink.NewRunReport(filepath.Join(cfg.OutputBaseDir, cfg.RunReportFilename), log)
	}

	o := New(cfg, queue.NewProjectQueue(log, projects...), pageCrawler, linkFilter, sinks, log, &Options{
		Projects:  store,
		Failures:  store,
		Report:    report,
		Resume:    resume,
		InputFile: inputFile,
	})

	return &Pipeline{Orchestrator: o, store: store, sinks: sinks, throttle: throttle, resume: resume, log: log}, nil
}

// Store exposes the state store, e.g. for exporting failures after a run
func (p *Pipeline) Store() storage.StateStore { return p.store }

// Run starts the background maintenance loops and runs the orchestrator
func (p *Pipeline) Run(ctx context.Context) (*models.RunMetadata, error) {
	bgCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.store.RunGC(bgCtx, gcInterval)
	}()
	go func() {
		defer wg.Done()
		p.throttle.RunEviction(bgCtx, evictionInterval)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	if p.resume {
		if n, err := p.store.CompletedCount(); err != nil {
			p.log.Warnf("Could not count completed projects: %v", err)
		} else {
			p.log.Infof("Resuming: %d projects already completed in the state store", n)
		}
	}

	return p.Orchestrator.Run(ctx)
}

// Close flushes the sinks and closes the store. Safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.sinks.Close(), p.store.Close())
	})
	return p.closeErr
}
