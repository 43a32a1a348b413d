// Package answer composes cited answers from retrieved evidence.
//
// A question is answered in four steps: retrieve local chunks, optionally
// supplement with live web search, assemble a budgeted context, and generate
// an answer that cites its passages. Confidence is graded deterministically
// from retrieval scores, never by the model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/retrieve"
	"github.com/veillehq/veille/internal/search"
	"github.com/veillehq/veille/internal/store"
)

const systemPrompt = `You are a research assistant answering questions from a curated set of monitored web sources.

Rules:
- Answer only from the numbered passages provided. If they do not contain the answer, say so plainly.
- Cite every claim with the passage number in square brackets, like [1] or [2][3].
- Never cite a passage number that was not provided.
- Prefer indexed passages over live web results when they conflict, and say when they conflict.
- Be concise. Do not restate the question.`

// webSearchLimit bounds how many web results supplement one question.
const webSearchLimit = 5

// ChunkRetriever is the local retrieval surface the composer needs.
type ChunkRetriever interface {
	Search(ctx context.Context, question string, opts ...retrieve.Option) ([]store.RetrievedChunk, error)
}

// WebSearcher is the live search surface. Enabled reports whether an
// instance is configured at all.
type WebSearcher interface {
	Enabled() bool
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// QueryLogger records answered questions.
type QueryLogger interface {
	InsertQueryLog(ctx context.Context, entry store.QueryLog) error
}

// Citation ties an answer back to a context passage.
type Citation struct {
	Index int
	URL   string
	Title string
}

// Answer is one composed response.
type Answer struct {
	ID         uuid.UUID
	Text       string
	Citations  []Citation
	Confidence Confidence
	// Degraded marks an extractive fallback produced without the model.
	Degraded bool
	Latency  time.Duration
}

// Composer builds answers.
type Composer struct {
	g         *genkit.Genkit
	modelName string
	retriever ChunkRetriever
	web       WebSearcher
	logs      QueryLogger
	cfg       config.QueryConfig
	logger    *slog.Logger
}

// New creates a Composer.
func New(g *genkit.Genkit, modelName string, retriever ChunkRetriever, web WebSearcher, logs QueryLogger, cfg config.QueryConfig, logger *slog.Logger) *Composer {
	return &Composer{
		g:         g,
		modelName: modelName,
		retriever: retriever,
		web:       web,
		logs:      logs,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ask answers one question. History is prior conversation turns, oldest
// first; only the most recent configured turns are passed to the model.
// When retrieval fails, the overall budget runs out, or generation fails
// twice, the answer degrades instead of erroring.
func (c *Composer) Ask(ctx context.Context, question string, history []*ai.Message, opts ...retrieve.Option) (Answer, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	chunks, err := c.retriever.Search(ctx, question, opts...)
	if err != nil {
		// The caller always gets an answer object. Retrieval failure,
		// including the answer deadline expiring mid-search, degrades
		// rather than erroring.
		c.logger.Warn("retrieval failed, returning degraded answer", "error", err)
		ans := Answer{
			Text:       "Content retrieval is currently unavailable, so this question cannot be answered from indexed sources.",
			Confidence: ConfidenceLow,
			Degraded:   true,
			ID:         uuid.New(),
			Latency:    time.Since(start),
		}
		c.logQuery(question, ans)
		return ans, nil
	}

	var webResults []search.Result
	if c.shouldSearchWeb(chunks) {
		webResults, err = c.web.Search(ctx, question, webSearchLimit)
		if err != nil && !errors.Is(err, search.ErrDisabled) {
			// Web search is supplementary. Answer from the index alone.
			c.logger.Warn("web search failed, continuing without it", "error", err)
			webResults = nil
		}
	}

	passages := assembleContext(chunks, webResults, c.cfg.ContextBudget)
	confidence := Grade(chunks, c.cfg.StrongSimilarity, c.cfg.WeakSimilarity)

	ans, genErr := c.generate(ctx, question, passages, history)
	if genErr != nil {
		c.logger.Warn("generation failed, returning degraded answer", "error", genErr)
		ans = degradedAnswer(passages)
		ans.Confidence = ConfidenceLow
	} else {
		ans.Confidence = confidence
	}

	ans.ID = uuid.New()
	ans.Latency = time.Since(start)
	c.logQuery(question, ans)
	return ans, nil
}

// shouldSearchWeb applies the configured web-search policy.
func (c *Composer) shouldSearchWeb(chunks []store.RetrievedChunk) bool {
	if !c.web.Enabled() {
		return false
	}
	switch c.cfg.WebSearch {
	case config.WebSearchOff:
		return false
	case config.WebSearchAlways:
		return true
	default:
		// Auto: search when the index is silent or its best match is weak.
		if len(chunks) == 0 {
			return true
		}
		var best float32
		for _, ch := range chunks {
			if ch.Similarity > best {
				best = ch.Similarity
			}
		}
		return best < c.cfg.WeakSimilarity
	}
}

// generate calls the model, retrying once on failure.
func (c *Composer) generate(ctx context.Context, question string, passages []Passage, history []*ai.Message) (Answer, error) {
	if len(passages) == 0 {
		return Answer{
			Text: "I have no indexed or searchable content relevant to this question.",
		}, nil
	}

	userPrompt := fmt.Sprintf("Context passages:\n\n%s\n\nQuestion: %s", renderContext(passages), question)
	bounded := boundHistory(history, c.cfg.HistoryTurns)
	messages := make([]*ai.Message, 0, len(bounded)+1)
	messages = append(messages, bounded...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userPrompt)))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := genkit.Generate(ctx, c.g,
			ai.WithModelName(c.modelName),
			ai.WithSystem(systemPrompt),
			ai.WithMessages(messages...),
		)
		if err == nil {
			text := strings.TrimSpace(resp.Text())
			return Answer{
				Text:      text,
				Citations: extractCitations(text, passages),
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Answer{}, fmt.Errorf("generating answer: %w", lastErr)
}

// boundHistory keeps the last n conversation turns (a turn is a user and a
// model message).
func boundHistory(history []*ai.Message, turns int) []*ai.Message {
	limit := turns * 2
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations parses [n] markers from the answer and resolves them to
// passages, in order of first appearance. Markers that point outside the
// context are dropped.
func extractCitations(text string, passages []Passage) []Citation {
	seen := make(map[int]struct{})
	var citations []Citation
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		p := passages[n-1]
		citations = append(citations, Citation{Index: n, URL: p.URL, Title: p.Title})
	}
	return citations
}

// degradedAnswer builds an extractive fallback from the best passages.
func degradedAnswer(passages []Passage) Answer {
	if len(passages) == 0 {
		return Answer{
			Text:     "Answer generation is unavailable and no relevant content was found.",
			Degraded: true,
		}
	}

	limit := min(3, len(passages))
	var sb strings.Builder
	sb.WriteString("Answer generation is currently unavailable. The most relevant passages were:\n")
	citations := make([]Citation, 0, limit)
	for i := 0; i < limit; i++ {
		p := passages[i]
		excerpt := p.Text
		if r := []rune(excerpt); len(r) > 400 {
			excerpt = string(r[:400]) + "..."
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", p.Index, p.Title, excerpt)
		citations = append(citations, Citation{Index: p.Index, URL: p.URL, Title: p.Title})
	}
	return Answer{
		Text:      sb.String(),
		Citations: citations,
		Degraded:  true,
	}
}

// logQuery records the answered question. Best effort: a logging failure
// never fails the answer.
func (c *Composer) logQuery(question string, ans Answer) {
	if c.logs == nil {
		return
	}
	urls := make([]string, len(ans.Citations))
	for i, cit := range ans.Citations {
		urls[i] = cit.URL
	}
	// Detached context: the answer context may already be past its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.logs.InsertQueryLog(ctx, store.QueryLog{
		ID:         ans.ID,
		Question:   question,
		Answer:     ans.Text,
		Citations:  urls,
		Confidence: string(ans.Confidence),
		Latency:    ans.Latency,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to record query log", "error", err)
	}
}
