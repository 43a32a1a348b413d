package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageClass is the detected shape of a fetched page.
type PageClass int

const (
	// ClassUnknown means no structural signal matched; treated as an article.
	ClassUnknown PageClass = iota
	// ClassArticle is a single readable document.
	ClassArticle
	// ClassIndex is a listing page that enumerates posts; its body is not
	// content, its links are follow-up fetch targets.
	ClassIndex
	// ClassFeed is an RSS/Atom payload.
	ClassFeed
)

// String implements fmt.Stringer for log output.
func (c PageClass) String() string {
	switch c {
	case ClassArticle:
		return "ARTICLE"
	case ClassIndex:
		return "INDEX"
	case ClassFeed:
		return "FEED"
	default:
		return "UNKNOWN"
	}
}

// Classification thresholds. A page is an index when it carries many
// similarly-shaped article links and most of its visible text lives inside
// anchors. Tunable, not contractual: chosen against common blog themes.
const (
	// minListingLinks is the link count that alone marks a listing page.
	minListingLinks = 12
	// minPatternLinks is the lower bound when repeated heading->anchor
	// structures confirm the listing shape.
	minPatternLinks = 6
	// indexLinkDensity is the anchor-text share of body text above which a
	// link-heavy page is classified as an index.
	indexLinkDensity = 0.55
)

// classifyDocument inspects a parsed HTML document and decides whether it
// is a single article or a post listing.
func classifyDocument(doc *goquery.Document) PageClass {
	body := doc.Find("body")
	if body.Length() == 0 {
		return ClassUnknown
	}

	// Navigation chrome would inflate both link counts and density.
	content := body.Clone()
	content.Find("nav, header, footer, aside, script, style").Remove()

	anchors := content.Find("a[href]")
	candidates := countArticleLinks(anchors)

	// Repeated structural pattern: listing themes wrap each post title in a
	// heading or article element with one anchor inside.
	patterned := content.Find("article a[href], h2 a[href], h3 a[href], li.post a[href]").Length()

	bodyText := len(strings.TrimSpace(content.Text()))
	if bodyText == 0 {
		if candidates >= minPatternLinks {
			return ClassIndex
		}
		return ClassUnknown
	}

	var anchorText int
	anchors.Each(func(_ int, sel *goquery.Selection) {
		anchorText += len(strings.TrimSpace(sel.Text()))
	})
	density := float64(anchorText) / float64(bodyText)

	switch {
	case candidates >= minListingLinks && density >= indexLinkDensity:
		return ClassIndex
	case patterned >= minPatternLinks:
		return ClassIndex
	default:
		return ClassArticle
	}
}

// countArticleLinks counts anchors that plausibly point at posts: non-empty
// visible text, not fragment-only, not obvious chrome (login, tags, rss).
func countArticleLinks(anchors *goquery.Selection) int {
	count := 0
	anchors.Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if len(text) < 15 {
			return
		}
		count++
	})
	return count
}
