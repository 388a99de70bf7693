package process

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/Sriram-PR/program-crawler/pkg/config"
)

// ExtractHeadings parses markdown and returns heading texts in document order
func ExtractHeadings(markdown []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				buf.Write(t.Segment.Value(markdown))
			}
		}
		if h := strings.TrimSpace(buf.String()); h != "" {
			headings = append(headings, h)
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}

// ContentHeadings returns the headings of a page's extracted content in either format
func ContentHeadings(content, format string) []string {
	if format == config.ContentFormatMarkdown {
		return ExtractHeadings([]byte(content))
	}
	return ExtractHeadings([]byte(TextToMarkdown(content)))
}

// TextToMarkdown rewrites text-mode content so [HEADING] lines become level-2 markdown headings
// and every other line is its own paragraph.
func TextToMarkdown(content string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, MarkerHeading); ok {
			b.WriteString("## ")
			b.WriteString(strings.TrimSpace(rest))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
