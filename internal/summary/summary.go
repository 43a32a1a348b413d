// Package summary generates digests over recently ingested content: a daily
// digest of everything new, and on-demand digests for a single topic.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/veillehq/veille/internal/store"
)

const digestSystemPrompt = `You summarize newly monitored web content for a daily briefing.

Rules:
- Group related items, lead with the most significant changes.
- Mention the source title for each item.
- If nothing noteworthy changed, say so in one sentence.
- Keep the whole digest under 300 words.`

// maxDigestRecords bounds how many records feed one digest.
const maxDigestRecords = 30

// maxExcerptChars bounds how much of each record the prompt carries.
const maxExcerptChars = 1500

// RecordReader lists recently ingested content.
type RecordReader interface {
	RecordsSince(ctx context.Context, since time.Time, topic string) ([]store.ContentRecord, error)
}

// Summarizer builds digests with the LLM.
type Summarizer struct {
	g         *genkit.Genkit
	modelName string
	records   RecordReader
	logger    *slog.Logger
}

// New creates a Summarizer.
func New(g *genkit.Genkit, modelName string, records RecordReader, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		g:         g,
		modelName: modelName,
		records:   records,
		logger:    logger,
	}
}

// Daily digests all content ingested in the last day.
func (s *Summarizer) Daily(ctx context.Context) (string, error) {
	return s.digest(ctx, time.Now().UTC().Add(-24*time.Hour), "")
}

// Topic digests recent content matching a topic, searched against titles
// and tags, over the given horizon.
func (s *Summarizer) Topic(ctx context.Context, topic string, since time.Time) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("summary: empty topic")
	}
	return s.digest(ctx, since, topic)
}

func (s *Summarizer) digest(ctx context.Context, since time.Time, topic string) (string, error) {
	records, err := s.records.RecordsSince(ctx, since, topic)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if len(records) == 0 {
		if topic != "" {
			return fmt.Sprintf("No new content about %q since %s.", topic, since.Format("2006-01-02")), nil
		}
		return fmt.Sprintf("No new content since %s.", since.Format("2006-01-02")), nil
	}
	if len(records) > maxDigestRecords {
		records = records[:maxDigestRecords]
	}

	prompt := buildDigestPrompt(records, topic)
	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithSystem(digestSystemPrompt),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("summary: generating digest: %w", err)
	}

	s.logger.Info("digest generated", "records", len(records), "topic", topic)
	return strings.TrimSpace(resp.Text()), nil
}

// buildDigestPrompt renders records into a numbered list for the model.
func buildDigestPrompt(records []store.ContentRecord, topic string) string {
	var sb strings.Builder
	if topic != "" {
		fmt.Fprintf(&sb, "Summarize the following recently ingested content about %q:\n\n", topic)
	} else {
		sb.WriteString("Summarize the following recently ingested content:\n\n")
	}
	for i, rec := range records {
		title := rec.Title
		if title == "" {
			title = rec.SourceURL
		}
		excerpt := rec.Content
		if r := []rune(excerpt); len(r) > maxExcerptChars {
			excerpt = string(r[:maxExcerptChars])
		}
		fmt.Fprintf(&sb, "%d. %s (%s, retrieved %s)\n%s\n\n",
			i+1, title, rec.SourceURL, rec.RetrievedAt.Format("2006-01-02"), excerpt)
	}
	return sb.String()
}
