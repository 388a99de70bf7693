package process

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/config"
	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// Section markers prefixed to structured blocks in text mode
const (
	MarkerHeading        = "[HEADING]"
	MarkerHTMLTable      = "[HTML_TABLE]"
	MarkerGridTable      = "[GRID_TABLE]"
	MarkerDefinitionList = "[DEFINITION_LIST]"
	MarkerCard           = "[CARD]"

	bulletPrefix = "• "

	minParagraphRunes = 11 // paragraphs need more than 10 characters
	minGridItemRunes  = 6
	minLineRunes      = 10 // normalized lines shorter than this are noise
)

// boilerplateSelector is stripped before content extraction
const boilerplateSelector = "script, style, nav, header, footer, aside, noscript"

var (
	gridClassRe     = regexp.MustCompile(`grid|row|col`)
	gridItemClassRe = regexp.MustCompile(`col|item|cell`)
	cardClassRe     = regexp.MustCompile(`card|panel|box`)
	cardTitleRe     = regexp.MustCompile(`title|header|heading`)
	cardBodyRe      = regexp.MustCompile(`content|body|text`)

	markerPrefixRe = regexp.MustCompile(`^\[[A-Z_]+\]\s*`)
	bulletPrefixRe = regexp.MustCompile(`^[•●\-\s\d\.\)\(]+`)
)

// HTMLExtractor turns a parsed page into a title and a content string.
// Text mode produces marker-prefixed lines; markdown mode converts the cleaned body with html-to-markdown.
type HTMLExtractor struct {
	format    string
	converter *md.Converter
	log       *logrus.Entry
}

// NewHTMLExtractor creates an extractor for the given content format
func NewHTMLExtractor(format string, log *logrus.Entry) *HTMLExtractor {
	if format == "" {
		format = config.ContentFormatText
	}
	e := &HTMLExtractor{format: format, log: log}
	if format == config.ContentFormatMarkdown {
		e.converter = md.NewConverter("", true, nil)
	}
	return e
}

// Format returns the configured content format
func (e *HTMLExtractor) Format() string {
	return e.format
}

// Title returns the trimmed <title> text, or "" when absent
func (e *HTMLExtractor) Title(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Content extracts the page body. The document itself is not modified.
func (e *HTMLExtractor) Content(doc *goquery.Document) (string, error) {
	body := doc.Selection.Clone()
	body.Find(boilerplateSelector).Remove()

	if e.format == config.ContentFormatMarkdown {
		return e.markdown(body)
	}
	return e.text(body), nil
}

func (e *HTMLExtractor) markdown(body *goquery.Selection) (string, error) {
	root := body.Find("body").First()
	if root.Length() == 0 {
		root = body
	}
	html, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("%w: rendering cleaned body: %v", utils.ErrMarkdownConversion, err)
	}
	out, err := e.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrMarkdownConversion, err)
	}
	return strings.TrimSpace(out), nil
}

func (e *HTMLExtractor) text(body *goquery.Selection) string {
	var parts []string
	parts = append(parts, textElements(body)...)
	parts = append(parts, structuredBlocks(body)...)

	lines := DedupLines(parts)
	e.log.Debugf("Extracted %d content lines from %d blocks", len(lines), len(parts))
	return strings.Join(lines, "\n")
}

func textElements(body *goquery.Selection) []string {
	var parts []string

	body.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, MarkerHeading+" "+t)
		}
	})

	body.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); utf8.RuneCountInString(t) >= minParagraphRunes {
			parts = append(parts, t)
		}
	})

	body.Find("ul li, ol li").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, bulletPrefix+t)
		}
	})

	return parts
}

func structuredBlocks(body *goquery.Selection) []string {
	var parts []string

	body.Find("table").Each(func(_ int, table *goquery.Selection) {
		if c := htmlTable(table); c != "" {
			parts = append(parts, MarkerHTMLTable+"\n"+c)
		}
	})

	withClass(body, gridClassRe).Each(func(_ int, grid *goquery.Selection) {
		if c := gridLayout(grid); c != "" {
			parts = append(parts, MarkerGridTable+"\n"+c)
		}
	})

	body.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		if c := definitionList(dl); c != "" {
			parts = append(parts, MarkerDefinitionList+"\n"+c)
		}
	})

	withClass(body, cardClassRe).Each(func(_ int, card *goquery.Selection) {
		if c := cardContent(card); c != "" {
			parts = append(parts, MarkerCard+"\n"+c)
		}
	})

	return parts
}

func htmlTable(table *goquery.Selection) string {
	var rows []string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, " | "))
		}
	})
	return strings.Join(rows, "\n")
}

// gridLayout only reports grids with at least two substantive items
func gridLayout(grid *goquery.Selection) string {
	var items []string
	withClass(grid, gridItemClassRe).Each(func(_ int, item *goquery.Selection) {
		if t := strings.TrimSpace(item.Text()); utf8.RuneCountInString(t) >= minGridItemRunes {
			items = append(items, t)
		}
	})
	if len(items) < 2 {
		return ""
	}
	return strings.Join(items, "\n")
}

func definitionList(dl *goquery.Selection) string {
	var items []string
	term := ""
	dl.Children().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "dt":
			term = strings.TrimSpace(child.Text())
		case "dd":
			if term != "" {
				items = append(items, term+": "+strings.TrimSpace(child.Text()))
				term = ""
			}
		}
	})
	return strings.Join(items, "\n")
}

func cardContent(card *goquery.Selection) string {
	title := ""
	if t := withClass(card, cardTitleRe).First(); t.Length() > 0 {
		title = strings.TrimSpace(t.Text())
	}
	var content string
	if b := withClass(card, cardBodyRe).First(); b.Length() > 0 {
		content = strings.TrimSpace(b.Text())
	} else {
		content = strings.TrimSpace(card.Text())
	}
	if title != "" && content != "" {
		return title + "\n" + content
	}
	return content
}

// withClass returns descendants of s having any class token matched by re
func withClass(s *goquery.Selection, re *regexp.Regexp) *goquery.Selection {
	return s.Find("[class]").FilterFunction(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		for _, token := range strings.Fields(class) {
			if re.MatchString(token) {
				return true
			}
		}
		return false
	})
}

// DedupLines splits blocks into lines and drops repeated or near-empty ones.
// Lines are compared after stripping marker prefixes and leading bullets, lowercasing and collapsing whitespace;
// the original line text is kept in the output.
func DedupLines(parts []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range parts {
		for _, line := range strings.Split(part, "\n") {
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			key := markerPrefixRe.ReplaceAllString(text, "")
			key = bulletPrefixRe.ReplaceAllString(key, "")
			key = strings.Join(strings.Fields(strings.ToLower(key)), " ")
			if utf8.RuneCountInString(key) < minLineRunes {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, text)
		}
	}
	return out
}
