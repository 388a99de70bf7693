package process

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/Sriram-PR/program-crawler/pkg/config"
)

// Chunk is one retrieval-sized piece of a page
type Chunk struct {
	Content          string
	HeadingHierarchy []string
	TokenCount       int
}

// ChunkerConfig sizes are in tokens when a tokenizer is loaded, runes otherwise
type ChunkerConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

// DefaultChunkerConfig returns sensible defaults for RAG chunking.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
	}
}

// ChunkerConfigFrom maps the output chunking section onto a ChunkerConfig
func ChunkerConfigFrom(cfg config.ChunkingConfig) ChunkerConfig {
	c := DefaultChunkerConfig()
	if cfg.MaxChunkSize > 0 {
		c.MaxChunkSize = cfg.MaxChunkSize
	}
	if cfg.ChunkOverlap >= 0 && cfg.ChunkOverlap < c.MaxChunkSize {
		c.ChunkOverlap = cfg.ChunkOverlap
	}
	return c
}

// ChunkContent splits a page's extracted content into chunks.
// Text-mode content is first rewritten to markdown so [HEADING] lines drive the split.
// Sections are split on markdown headers with heading context kept; sections still
// over MaxChunkSize fall back to recursive character splitting.
func ChunkContent(content, format string, cfg ChunkerConfig) ([]Chunk, error) {
	if format != config.ContentFormatMarkdown {
		content = TextToMarkdown(content)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lenFunc := func(s string) int {
		if n := CountTokens(s); n >= 0 {
			return n
		}
		return len([]rune(s))
	}

	recursive := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(lenFunc),
	)

	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursive),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(content)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:          part,
			HeadingHierarchy: ExtractHeadings([]byte(part)),
			TokenCount:       CountTokens(part),
		})
	}
	return chunks, nil
}
