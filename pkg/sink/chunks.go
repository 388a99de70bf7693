package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/process"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// ChunkRecord is one line of the chunk file
type ChunkRecord struct {
	ChunkID          string   `json:"chunk_id"` // <project_id>-<url hash>-<index>, stable across runs
	ProjectID        string   `json:"project_id"`
	SourceTag        string   `json:"source_tag"`
	URL              string   `json:"url"`
	PageTitle        string   `json:"page_title"`
	Depth            int      `json:"depth"`
	ChunkIndex       int      `json:"chunk_index"`
	Content          string   `json:"content"`
	HeadingHierarchy []string `json:"heading_hierarchy,omitempty"`
	TokenCount       int      `json:"token_count"`
	CrawledAt        string   `json:"crawled_at"`
}

// ChunkSink splits the content of every successful page into retrieval-sized chunks
type ChunkSink struct {
	file   *lineFile
	format string
	cfg    process.ChunkerConfig
	log    *logrus.Entry
}

// NewChunkSink loads the configured tokenizer and opens path for chunk lines
func NewChunkSink(path, contentFormat string, chunking config.ChunkingConfig, resume bool, log *logrus.Entry) (*ChunkSink, error) {
	log = log.WithField("sink", "chunks")
	if err := process.InitTokenizer(chunking.TokenizerEncoding); err != nil {
		return nil, err
	}
	f, err := openLineFile(path, "chunks", resume, log)
	if err != nil {
		return nil, err
	}
	cfg := process.ChunkerConfigFrom(chunking)
	log.Infof("Chunking enabled: max %d tokens, overlap %d, encoding %s", cfg.MaxChunkSize, cfg.ChunkOverlap, process.TokenizerEncoding())
	return &ChunkSink{file: f, format: contentFormat, cfg: cfg, log: log}, nil
}

// Emit implements CompletionSink. A page that fails to chunk is logged and skipped.
func (s *ChunkSink) Emit(ctx context.Context, result *models.ProjectResult) error {
	crawledAt := result.CrawlTime.Format(time.RFC3339)
	var records []any
	for _, page := range result.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if page.CrawlStatus != models.CrawlStatusSuccess {
			continue
		}
		chunks, err := process.ChunkContent(page.Content, s.format, s.cfg)
		if err != nil {
			s.log.WithField("url", page.URL).Warnf("Failed to chunk page content: %v", err)
			continue
		}
		for i, c := range chunks {
			records = append(records, ChunkRecord{
				ChunkID:          fmt.Sprintf("%s-%s-%d", result.ProjectID, utils.ShortHash(page.URL), i),
				ProjectID:        result.ProjectID,
				SourceTag:        result.SourceTag,
				URL:              page.URL,
				PageTitle:        page.Title,
				Depth:            page.Depth,
				ChunkIndex:       i,
				Content:          c.Content,
				HeadingHierarchy: c.HeadingHierarchy,
				TokenCount:       c.TokenCount,
				CrawledAt:        crawledAt,
			})
		}
	}
	if len(records) == 0 {
		return nil
	}
	s.log.WithField("project_id", result.ProjectID).Debugf("Writing %d chunks", len(records))
	return s.file.writeLines(records...)
}

// Close implements CompletionSink
func (s *ChunkSink) Close() error { return s.file.close() }
