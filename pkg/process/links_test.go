package process

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/program-crawler/pkg/models"
)

func TestExtractLinks(t *testing.T) {
	html := `<html><body>
<header><a href="/home">Apply now</a></header>
<div class="menu"><a href="/menu-fees">Fees</a></div>
<nav><a href="/programs/msc/fees">Tuition fees</a></nav>
<main>
<a href="fees#top">Tuition fees</a>
<a href="/programs/msc/">Overview</a>
<a href="mailto:office@uni.example">Email us</a>
<a href="javascript:void(0)">Toggle</a>
<a href="https://other.example/apply">  Apply
   online </a>
<a href="/programs/msc/fees">Fee details</a>
</main>
<footer><a href="/contact">Contact</a></footer>
</body></html>`
	pageURL, err := url.Parse("https://uni.example/programs/msc/")
	require.NoError(t, err)

	links := ExtractLinks(mustDoc(t, html), pageURL, testLogger())

	assert.Equal(t, []models.LinkCandidate{
		{URL: "https://uni.example/programs/msc/fees", AnchorText: "Tuition fees"},
		{URL: "https://other.example/apply", AnchorText: "Apply online"},
		{URL: "https://uni.example/programs/msc/fees", AnchorText: "Fee details"},
	}, links)
}

func TestExtractLinks_NoAnchors(t *testing.T) {
	pageURL, _ := url.Parse("https://uni.example/")
	links := ExtractLinks(mustDoc(t, "<html><body><p>nothing here</p></body></html>"), pageURL, testLogger())
	assert.Empty(t, links)
}

func TestExtractLinks_DoesNotModifyDocument(t *testing.T) {
	pageURL, _ := url.Parse("https://uni.example/")
	doc := mustDoc(t, `<html><body><header><a href="/a">A</a></header><a href="/b">B</a></body></html>`)

	ExtractLinks(doc, pageURL, testLogger())

	assert.Equal(t, 2, doc.Find("a[href]").Length())
}
