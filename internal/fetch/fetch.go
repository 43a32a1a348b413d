// Package fetch retrieves source pages over HTTP.
//
// Fetches are polite by default: a shared user agent, per-domain delay and
// parallelism limits, conditional requests via If-Modified-Since, and a hard
// response size cap. All outbound requests pass through the SSRF validator.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/security"
)

// ErrNotModified is returned when the server answers 304 to a conditional
// request. The caller should treat the source as unchanged.
var ErrNotModified = errors.New("fetch: content not modified")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Page is one successfully fetched payload.
type Page struct {
	URL          string
	ContentType  string
	Body         []byte
	StatusCode   int
	LastModified time.Time
	FetchedAt    time.Time
}

// Fetcher retrieves pages with retries and politeness limits.
type Fetcher struct {
	base   *colly.Collector
	cfg    config.IngestConfig
	logger *slog.Logger
}

// New creates a Fetcher. The validator guards every request, including
// redirect hops and DNS resolution.
func New(cfg config.IngestConfig, validator *security.URL, logger *slog.Logger) (*Fetcher, error) {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(int(cfg.MaxContentBytes)),
		colly.AllowURLRevisit(),
	)
	c.SetClient(validator.SafeClient(cfg.Timeout()))
	c.SetRequestTimeout(cfg.Timeout())

	err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay(),
	})
	if err != nil {
		return nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	return &Fetcher{base: c, cfg: cfg, logger: logger}, nil
}

// Fetch retrieves one URL. When lastModified is non-zero the request is
// conditional and ErrNotModified is returned on a 304. Transient failures
// are retried with exponential backoff up to the configured attempt count.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, lastModified time.Time) (Page, error) {
	var lastErr error
	delay := 500 * time.Millisecond
	const maxDelay = 10 * time.Second

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}

		page, err := f.fetchOnce(rawURL, lastModified)
		if err == nil {
			f.logger.Debug("fetched page",
				"url", rawURL,
				"bytes", len(page.Body),
				"attempts", attempt+1)
			return page, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotModified) || !Retryable(err) {
			return Page{}, err
		}
		if attempt == f.cfg.MaxRetries {
			break
		}

		f.logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		}
	}

	return Page{}, fmt.Errorf("fetch %s after %d retries: %w", rawURL, f.cfg.MaxRetries, lastErr)
}

// fetchOnce performs a single HTTP attempt through the shared collector.
func (f *Fetcher) fetchOnce(rawURL string, lastModified time.Time) (Page, error) {
	c := f.base.Clone()

	var page Page
	var fetchErr error

	c.OnRequest(func(r *colly.Request) {
		if !lastModified.IsZero() {
			r.Headers.Set("If-Modified-Since", lastModified.UTC().Format(http.TimeFormat))
		}
	})
	c.OnResponse(func(r *colly.Response) {
		page = Page{
			URL:         r.Request.URL.String(),
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
			StatusCode:  r.StatusCode,
			FetchedAt:   time.Now().UTC(),
		}
		if lm := r.Headers.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				page.LastModified = t
			}
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode == http.StatusNotModified {
			fetchErr = fmt.Errorf("%w: %s", ErrNotModified, rawURL)
			return
		}
		if r != nil && r.StatusCode != 0 {
			fetchErr = &StatusError{URL: rawURL, StatusCode: r.StatusCode}
			return
		}
		fetchErr = fmt.Errorf("fetch %s: %w", rawURL, err)
	})

	if err := c.Visit(rawURL); err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	c.Wait()

	if fetchErr != nil {
		return Page{}, fetchErr
	}
	if page.Body == nil {
		return Page{}, fmt.Errorf("fetch %s: empty response", rawURL)
	}
	return page, nil
}
