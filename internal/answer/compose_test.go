package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/retrieve"
	"github.com/veillehq/veille/internal/search"
	"github.com/veillehq/veille/internal/store"
	"github.com/veillehq/veille/internal/testutil"
)

type fakeRetriever struct {
	chunks []store.RetrievedChunk
	err    error
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ ...retrieve.Option) ([]store.RetrievedChunk, error) {
	return f.chunks, f.err
}

type fakeWebSearcher struct {
	enabled bool
	results []search.Result
	err     error
	queries []string
}

func (f *fakeWebSearcher) Enabled() bool { return f.enabled }

func (f *fakeWebSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type fakeQueryLogger struct {
	entries []store.QueryLog
	err     error
}

func (f *fakeQueryLogger) InsertQueryLog(_ context.Context, entry store.QueryLog) error {
	f.entries = append(f.entries, entry)
	return f.err
}

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		TopK:             8,
		ContextBudget:    8000,
		HistoryTurns:     3,
		TimeoutMs:        5000,
		WebSearch:        config.WebSearchAuto,
		StrongSimilarity: 0.78,
		WeakSimilarity:   0.60,
	}
}

func newTestComposer(t *testing.T, retriever ChunkRetriever, web WebSearcher, logs QueryLogger) (*Composer, *testutil.MockAISetup) {
	t.Helper()
	mock := testutil.SetupMockAI(t)
	c := New(mock.Genkit, testutil.MockModelName, retriever, web, logs, testQueryConfig(), log.NewNop())
	return c, mock
}

func TestAskCitesPassages(t *testing.T) {
	retriever := &fakeRetriever{chunks: []store.RetrievedChunk{
		retrieved("https://a.example/1", "First", "evidence one", 0.90),
		retrieved("https://b.example/2", "Second", "evidence two", 0.85),
	}}
	logs := &fakeQueryLogger{}
	c, mock := newTestComposer(t, retriever, &fakeWebSearcher{}, logs)
	mock.LLM.AddResponse("evidence one", "The answer rests on [1] and also [2]. And [1] again.")

	ans, err := c.Ask(context.Background(), "what is the evidence?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Degraded {
		t.Error("answer unexpectedly degraded")
	}
	if ans.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %v, want HIGH", ans.Confidence)
	}
	if len(ans.Citations) != 2 {
		t.Fatalf("Citations = %+v, want [1] and [2] once each", ans.Citations)
	}
	if ans.Citations[0].URL != "https://a.example/1" || ans.Citations[1].URL != "https://b.example/2" {
		t.Errorf("citation URLs wrong: %+v", ans.Citations)
	}
	if ans.ID == uuid.Nil {
		t.Error("answer ID not set")
	}
	if len(logs.entries) != 1 {
		t.Fatalf("query log entries = %d, want 1", len(logs.entries))
	}
	if logs.entries[0].Question != "what is the evidence?" {
		t.Errorf("logged question = %q", logs.entries[0].Question)
	}
}

func TestAskRetriesOnceThenSucceeds(t *testing.T) {
	retriever := &fakeRetriever{chunks: []store.RetrievedChunk{
		retrieved("https://a.example/1", "First", "evidence one", 0.90),
	}}
	c, mock := newTestComposer(t, retriever, &fakeWebSearcher{}, nil)
	mock.LLM.FailNext(1)
	mock.LLM.AddResponse("evidence one", "Recovered answer [1].")

	ans, err := c.Ask(context.Background(), "what is the evidence?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Degraded {
		t.Error("a single transient failure should not degrade the answer")
	}
	if !strings.Contains(ans.Text, "Recovered answer") {
		t.Errorf("Text = %q", ans.Text)
	}
}

func TestAskDegradesWhenGenerationKeepsFailing(t *testing.T) {
	retriever := &fakeRetriever{chunks: []store.RetrievedChunk{
		retrieved("https://a.example/1", "First", "evidence one", 0.90),
		retrieved("https://b.example/2", "Second", "evidence two", 0.85),
	}}
	c, mock := newTestComposer(t, retriever, &fakeWebSearcher{}, nil)
	mock.LLM.FailNext(2)

	ans, err := c.Ask(context.Background(), "what is the evidence?", nil)
	if err != nil {
		t.Fatalf("Ask() must not error on generation failure, got %v", err)
	}
	if !ans.Degraded {
		t.Fatal("answer not marked degraded")
	}
	if ans.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %v, want LOW for a degraded answer", ans.Confidence)
	}
	if !strings.Contains(ans.Text, "evidence one") {
		t.Errorf("degraded answer missing best passage excerpt: %q", ans.Text)
	}
	if len(ans.Citations) != 2 {
		t.Errorf("Citations = %d, want the excerpted passages cited", len(ans.Citations))
	}
}

func TestAskNoEvidence(t *testing.T) {
	c, _ := newTestComposer(t, &fakeRetriever{}, &fakeWebSearcher{}, nil)

	ans, err := c.Ask(context.Background(), "anything at all?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %v, want LOW", ans.Confidence)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("Citations = %+v, want none", ans.Citations)
	}
}

func TestDegradedAnswerTruncatesOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 450)
	ans := degradedAnswer([]Passage{{Index: 1, URL: "https://a.example/1", Title: "A", Text: text}})
	if !utf8.ValidString(ans.Text) {
		t.Error("degraded answer text is not valid UTF-8")
	}
	if !strings.Contains(ans.Text, strings.Repeat("é", 400)+"...") {
		t.Error("excerpt not truncated at 400 runes")
	}
}

func TestAskRetrievalErrorDegrades(t *testing.T) {
	logs := &fakeQueryLogger{}
	c, mock := newTestComposer(t, &fakeRetriever{err: errors.New("pool closed")}, &fakeWebSearcher{}, logs)

	ans, err := c.Ask(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("Ask() must not error on retrieval failure, got %v", err)
	}
	if !ans.Degraded {
		t.Error("answer not marked degraded")
	}
	if ans.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %v, want LOW", ans.Confidence)
	}
	if !strings.Contains(ans.Text, "unavailable") {
		t.Errorf("answer text %q missing an explicit failure notice", ans.Text)
	}
	if len(mock.LLM.Calls()) != 0 {
		t.Error("model called despite failed retrieval")
	}
	if len(logs.entries) != 1 {
		t.Errorf("query log entries = %d, want 1", len(logs.entries))
	}
}

func TestAskWebSearchFailureIsNotFatal(t *testing.T) {
	web := &fakeWebSearcher{enabled: true, err: errors.New("searxng down")}
	c, mock := newTestComposer(t, &fakeRetriever{}, web, nil)
	mock.LLM.AddResponse("", "unused")

	ans, err := c.Ask(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v, web failure must not be fatal", err)
	}
	if len(web.queries) != 1 {
		t.Errorf("web queries = %d, want 1", len(web.queries))
	}
	if ans.Text == "" {
		t.Error("answer text empty")
	}
}

func TestShouldSearchWeb(t *testing.T) {
	weakChunk := []store.RetrievedChunk{retrieved("https://a.example/1", "A", "t", 0.40)}
	strongChunk := []store.RetrievedChunk{retrieved("https://a.example/1", "A", "t", 0.90)}

	tests := []struct {
		name    string
		mode    string
		enabled bool
		chunks  []store.RetrievedChunk
		want    bool
	}{
		{"disabled instance", config.WebSearchAlways, false, nil, false},
		{"off mode", config.WebSearchOff, true, nil, false},
		{"always mode", config.WebSearchAlways, true, strongChunk, true},
		{"auto with no chunks", config.WebSearchAuto, true, nil, true},
		{"auto with weak best", config.WebSearchAuto, true, weakChunk, true},
		{"auto with strong best", config.WebSearchAuto, true, strongChunk, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testQueryConfig()
			cfg.WebSearch = tt.mode
			c := &Composer{web: &fakeWebSearcher{enabled: tt.enabled}, cfg: cfg, logger: log.NewNop()}
			if got := c.shouldSearchWeb(tt.chunks); got != tt.want {
				t.Errorf("shouldSearchWeb() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractCitations(t *testing.T) {
	passages := []Passage{
		{Index: 1, URL: "https://a.example/1", Title: "A"},
		{Index: 2, URL: "https://b.example/2", Title: "B"},
	}

	tests := []struct {
		name string
		text string
		want []int
	}{
		{"none", "No citations here.", nil},
		{"ordered by first appearance", "Claim [2], then [1], then [2] again.", []int{2, 1}},
		{"out of range dropped", "Real [1] and bogus [7].", []int{1}},
		{"zero dropped", "Bogus [0] only.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractCitations(tt.text, passages)
			if len(got) != len(tt.want) {
				t.Fatalf("extractCitations() = %+v, want indexes %v", got, tt.want)
			}
			for i, n := range tt.want {
				if got[i].Index != n {
					t.Errorf("citation %d index = %d, want %d", i, got[i].Index, n)
				}
			}
		})
	}
}

func TestBoundHistory(t *testing.T) {
	msgs := make([]*ai.Message, 10)
	for i := range msgs {
		msgs[i] = ai.NewUserMessage(ai.NewTextPart("m"))
	}

	tests := []struct {
		name    string
		history []*ai.Message
		turns   int
		wantLen int
	}{
		{"short history untouched", msgs[:4], 3, 4},
		{"long history trimmed to last turns", msgs, 3, 6},
		{"zero turns keeps all", msgs, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := boundHistory(tt.history, tt.turns); len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}
