package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractMetadata pulls common document metadata from meta tags and the
// first time element. Missing fields are simply absent from the map.
func extractMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)

	setIfPresent := func(key string, selectors ...string) {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok {
				if v = strings.TrimSpace(v); v != "" {
					meta[key] = v
					return
				}
			}
		}
	}

	setIfPresent("author",
		`meta[name="author"]`,
		`meta[property="article:author"]`)
	setIfPresent("description",
		`meta[name="description"]`,
		`meta[property="og:description"]`)
	setIfPresent("published",
		`meta[property="article:published_time"]`,
		`meta[name="date"]`)
	setIfPresent("keywords", `meta[name="keywords"]`)
	setIfPresent("site", `meta[property="og:site_name"]`)

	if _, ok := meta["published"]; !ok {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			if dt = strings.TrimSpace(dt); dt != "" {
				meta["published"] = dt
			}
		}
	}
	return meta
}
