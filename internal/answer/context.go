package answer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veillehq/veille/internal/search"
	"github.com/veillehq/veille/internal/store"
)

// Passage origin markers, surfaced in the prompt so the model can weigh
// indexed content against live search snippets.
const (
	originIndex = "index"
	originWeb   = "web"
)

// Passage is one piece of evidence offered to the model. Index is its
// 1-based citation number within the assembled context.
type Passage struct {
	Index       int
	URL         string
	Title       string
	Text        string
	Origin      string
	Similarity  float32
	RetrievedAt time.Time
}

// assembleContext fuses local chunks and web results into a numbered passage
// list. Candidates from both origins compete on one score scale: chunk
// cosine similarity as-is, web engine scores clamped to 1 so a strong live
// result can outrank a stale chunk without an unbounded engine score
// drowning out everything indexed. One passage per URL, and the total text
// length stays within budget.
func assembleContext(chunks []store.RetrievedChunk, webResults []search.Result, budget int) []Passage {
	type candidate struct {
		rank float32
		p    Passage
	}
	candidates := make([]candidate, 0, len(chunks)+len(webResults))
	for _, c := range chunks {
		candidates = append(candidates, candidate{
			rank: c.Similarity,
			p: Passage{
				URL:         c.SourceURL,
				Title:       c.Title,
				Text:        c.Chunk.Content,
				Origin:      originIndex,
				Similarity:  c.Similarity,
				RetrievedAt: c.RetrievedAt,
			},
		})
	}
	for _, r := range webResults {
		candidates = append(candidates, candidate{
			rank: float32(min(r.Score, 1)),
			p: Passage{
				URL:    r.URL,
				Title:  r.Title,
				Text:   r.Snippet,
				Origin: originWeb,
			},
		})
	}
	// Stable: an indexed chunk wins a tie against a web result.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rank > candidates[j].rank
	})

	seen := make(map[string]struct{})
	var passages []Passage
	used := 0
	for _, cand := range candidates {
		p := cand.p
		if p.Text == "" {
			continue
		}
		if _, dup := seen[p.URL]; dup {
			continue
		}
		if used+len(p.Text) > budget {
			break
		}
		seen[p.URL] = struct{}{}
		p.Index = len(passages) + 1
		passages = append(passages, p)
		used += len(p.Text)
	}
	return passages
}

// renderContext formats passages for the prompt. Each passage is numbered
// so the model can cite it as [n].
func renderContext(passages []Passage) string {
	var sb strings.Builder
	for _, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s (%s", p.Index, p.Title, p.URL)
		if p.Origin == originWeb {
			sb.WriteString(", live web result")
		} else if !p.RetrievedAt.IsZero() {
			fmt.Fprintf(&sb, ", retrieved %s", p.RetrievedAt.Format("2006-01-02"))
		}
		sb.WriteString(")\n")
		sb.WriteString(p.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
