// Package normalize turns raw fetched payloads into canonical text.
//
// A payload is classified as an article, a post listing, or a feed. Articles
// are reduced to their main content with boilerplate removed; listings yield
// discovered post links instead of text; feeds yield their combined entries.
// The canonical text form is deterministic so that identical content always
// produces the same fingerprint.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// Type hints carried by a source. Auto means classify from structure.
const (
	HintAuto    = "auto"
	HintArticle = "article"
	HintIndex   = "index"
	HintFeed    = "feed"
)

// ErrEmptyDocument is returned when a payload yields no usable text at all.
var ErrEmptyDocument = errors.New("normalize: document has no extractable text")

// Result is the canonical form of one fetched payload.
type Result struct {
	Class    PageClass
	Title    string
	Text     string
	Metadata map[string]string
	// Links holds discovered post URLs when Class is ClassIndex.
	Links []string
	// Degraded is set when main-content extraction failed and Text is a
	// whole-page fallback.
	Degraded bool
}

// Normalizer converts fetched payloads into Results.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize converts one raw payload. The hint is the source's declared type
// and overrides structural classification when set. The returned error is
// non-nil only when nothing usable could be extracted; partial extraction
// returns a Result with Degraded set.
func (n *Normalizer) Normalize(sourceURL, contentType, hint string, raw []byte) (Result, error) {
	if hint == HintFeed || isFeedContentType(contentType) || looksLikeFeed(raw) {
		return n.normalizeFeed(sourceURL, raw)
	}

	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		reader = bytes.NewReader(raw)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return Result{}, fmt.Errorf("parsing html from %s: %w", sourceURL, err)
	}

	class := ClassArticle
	switch hint {
	case HintIndex:
		class = ClassIndex
	case HintArticle:
		class = ClassArticle
	default:
		class = classifyDocument(doc)
		if class == ClassUnknown {
			class = ClassArticle
		}
	}

	if class == ClassIndex {
		return n.normalizeIndex(sourceURL, doc)
	}
	return n.normalizeArticle(sourceURL, doc, raw)
}

// normalizeArticle extracts the main content of a single document. It tries
// readability first and falls back to stripped whole-page text, marking the
// result degraded.
func (n *Normalizer) normalizeArticle(sourceURL string, doc *goquery.Document, raw []byte) (Result, error) {
	res := Result{
		Class:    ClassArticle,
		Title:    documentTitle(doc),
		Metadata: extractMetadata(doc),
	}

	if parsed, err := url.Parse(sourceURL); err == nil {
		if article, err := readability.FromReader(bytes.NewReader(raw), parsed); err == nil {
			text := CanonicalText(article.TextContent)
			if text != "" {
				if res.Title == "" {
					res.Title = strings.TrimSpace(article.Title)
				}
				if article.Byline != "" && res.Metadata["author"] == "" {
					res.Metadata["author"] = strings.TrimSpace(article.Byline)
				}
				res.Text = text
				return res, nil
			}
		}
	}

	// Readability gave up. Strip chrome and take whatever text remains.
	n.logger.Warn("main content extraction failed, using whole-page text", "url", sourceURL)
	stripped := doc.Find("body").Clone()
	stripped.Find("script, style, nav, header, footer, aside, noscript, form").Remove()
	text := CanonicalText(stripped.Text())
	if text == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyDocument, sourceURL)
	}
	res.Text = text
	res.Degraded = true
	return res, nil
}

// normalizeIndex extracts post links from a listing page. The page body is
// deliberately not turned into content.
func (n *Normalizer) normalizeIndex(sourceURL string, doc *goquery.Document) (Result, error) {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return Result{}, fmt.Errorf("parsing index url %s: %w", sourceURL, err)
	}

	links := collectPostLinks(doc, base)
	n.logger.Debug("classified as index page", "url", sourceURL, "links", len(links))
	return Result{
		Class:    ClassIndex,
		Title:    documentTitle(doc),
		Metadata: extractMetadata(doc),
		Links:    links,
	}, nil
}

// collectPostLinks resolves candidate article anchors against the base URL,
// keeps same-host links and deduplicates while preserving document order.
func collectPostLinks(doc *goquery.Document, base *url.URL) []string {
	body := doc.Find("body").Clone()
	body.Find("nav, header, footer, aside").Remove()

	seen := make(map[string]struct{})
	var links []string
	body.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		if len(strings.TrimSpace(sel.Text())) < 15 {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host {
			return
		}
		abs.Fragment = ""
		key := abs.String()
		if key == base.String() {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, key)
	})
	return links
}

// documentTitle prefers og:title over the title element.
func documentTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(og); t != "" {
			return t
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// CanonicalText collapses all whitespace runs to single spaces, preserving
// paragraph breaks as double newlines. Identical content always canonicalizes
// to the same string regardless of source formatting.
func CanonicalText(s string) string {
	paragraphs := strings.Split(s, "\n\n")
	out := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n\n")
}

// WordCount counts whitespace-separated tokens in canonical text.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
