package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

// maxFeedEntries bounds how many entries a single feed contributes.
const maxFeedEntries = 10

// isFeedContentType reports whether the Content-Type header announces a feed.
func isFeedContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/rss+xml") ||
		strings.Contains(ct, "application/atom+xml") ||
		strings.Contains(ct, "application/feed+json")
}

// looksLikeFeed sniffs the payload prefix for RSS or Atom markers, covering
// servers that serve feeds as text/xml or even text/html.
func looksLikeFeed(raw []byte) bool {
	head := raw
	if len(head) > 512 {
		head = head[:512]
	}
	low := bytes.ToLower(head)
	return bytes.Contains(low, []byte("<rss")) || bytes.Contains(low, []byte("<feed"))
}

// normalizeFeed parses an RSS/Atom payload and combines the newest entries
// into one canonical document.
func (n *Normalizer) normalizeFeed(sourceURL string, raw []byte) (Result, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("parsing feed %s: %w", sourceURL, err)
	}

	entries := feed.Items
	if len(entries) > maxFeedEntries {
		entries = entries[:maxFeedEntries]
	}

	var sb strings.Builder
	for _, item := range entries {
		if item == nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title != "" {
			sb.WriteString(title)
			sb.WriteString("\n\n")
		}
		body := item.Content
		if body == "" {
			body = item.Description
		}
		if body = stripTags(body); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
	}

	text := CanonicalText(sb.String())
	if text == "" {
		return Result{}, fmt.Errorf("%w: feed %s has no entries", ErrEmptyDocument, sourceURL)
	}

	meta := map[string]string{"type": "feed"}
	if feed.Description != "" {
		meta["description"] = strings.TrimSpace(feed.Description)
	}
	if feed.Updated != "" {
		meta["updated"] = feed.Updated
	}

	n.logger.Debug("normalized feed", "url", sourceURL, "entries", len(entries))
	return Result{
		Class:    ClassFeed,
		Title:    strings.TrimSpace(feed.Title),
		Text:     text,
		Metadata: meta,
	}, nil
}

// stripTags removes HTML markup from feed entry bodies. Feed descriptions are
// commonly HTML fragments regardless of what the feed declares.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			sb.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
