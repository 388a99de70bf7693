package process

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/program-crawler/pkg/models"
	"github.com/Sriram-PR/program-crawler/pkg/parse"
)

// chromeSelector marks page chrome whose links are ignored. <nav> is kept since
// program sites often put the sub-page menu there.
const chromeSelector = "footer, .menu, header"

// ExtractLinks returns every absolute http(s) link on the page with its anchor text.
// Links inside page chrome and links back to pageURL itself are dropped, as are exact
// repeats of an earlier URL and anchor text pair. Anchor filtering and URL dedup are left to the caller.
func ExtractLinks(doc *goquery.Document, pageURL *url.URL, log *logrus.Entry) []models.LinkCandidate {
	total := doc.Find("a[href]").Length()

	root := doc.Selection.Clone()
	root.Find(chromeSelector).Remove()
	anchors := root.Find("a[href]")

	self := parse.NormalizeURL(pageURL)
	seen := make(map[string]struct{})
	var out []models.LinkCandidate

	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, ok := parse.ResolveLink(pageURL, href)
		if !ok {
			return
		}
		norm := parse.NormalizeURL(u)
		if norm == self {
			return
		}
		text := collapseSpace(a.Text())
		key := norm + "\x00" + text
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, models.LinkCandidate{URL: u.String(), AnchorText: text})
	})

	log.WithFields(logrus.Fields{
		"links_total":  total,
		"links_chrome": total - anchors.Length(),
		"links_unique": len(out),
	}).Debug("Extracted links")
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
