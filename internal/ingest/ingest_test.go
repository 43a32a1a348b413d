package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/fetch"
	"github.com/veillehq/veille/internal/index"
	"github.com/veillehq/veille/internal/ledger"
	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/normalize"
	"github.com/veillehq/veille/internal/store"
)

type fakeSources struct {
	mu      sync.Mutex
	sources []store.Source
	listErr error

	added   []store.Source
	touched []string
}

func (f *fakeSources) ListActiveSources(_ context.Context) ([]store.Source, error) {
	return f.sources, f.listErr
}

func (f *fakeSources) AddSource(_ context.Context, url string, tags []string, hint string, checkFrequency time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, store.Source{URL: url, Tags: tags, Hint: hint, CheckFrequency: checkFrequency})
	return nil
}

func (f *fakeSources) TouchSourceChecked(_ context.Context, url string, _, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, url)
	return nil
}

type fakeFetcher struct {
	page    fetch.Page
	err     error
	started chan struct{} // closed-once signal that a fetch began
	block   chan struct{} // fetch waits on this when non-nil
	once    sync.Once
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ time.Time) (fetch.Page, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return fetch.Page{}, f.err
	}
	page := f.page
	page.URL = url
	return page, nil
}

type fakeNormalizer struct {
	result normalize.Result
	err    error

	gotHint string
}

func (f *fakeNormalizer) Normalize(_, _, hint string, _ []byte) (normalize.Result, error) {
	f.gotHint = hint
	return f.result, f.err
}

type fakeDeduper struct {
	decision ledger.Decision
	err      error
}

func (f *fakeDeduper) Decide(_ context.Context, _, text string) (ledger.Decision, string, error) {
	return f.decision, ledger.Fingerprint(text), f.err
}

type fakeIndexer struct {
	id    uuid.UUID
	err   error
	calls int
}

func (f *fakeIndexer) Index(_ context.Context, _ index.Document) (uuid.UUID, error) {
	f.calls++
	return f.id, f.err
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		MaxParallelSources: 2,
		MaxFollowUps:       3,
	}
}

func articleSource(url string) store.Source {
	return store.Source{
		URL:            url,
		Active:         true,
		Hint:           normalize.HintAuto,
		CheckFrequency: time.Hour,
	}
}

func articleResult() normalize.Result {
	return normalize.Result{
		Class: normalize.ClassArticle,
		Title: "Post",
		Text:  "canonical body text",
	}
}

func TestIngestSourceIndexed(t *testing.T) {
	sources := &fakeSources{}
	indexer := &fakeIndexer{id: uuid.New()}
	o := New(sources,
		&fakeFetcher{page: fetch.Page{ContentType: "text/html", Body: []byte("x")}},
		&fakeNormalizer{result: articleResult()},
		&fakeDeduper{decision: ledger.DecisionChanged},
		indexer,
		testIngestConfig(), log.NewNop())

	out := o.IngestSource(context.Background(), articleSource("https://a.example/post"))
	if out.Status != StatusIndexed {
		t.Fatalf("Status = %v, want indexed (err: %v)", out.Status, out.Err)
	}
	if out.State != StateDone {
		t.Errorf("State = %v, want DONE", out.State)
	}
	if out.RecordID != indexer.id {
		t.Errorf("RecordID = %v, want %v", out.RecordID, indexer.id)
	}
	if len(sources.touched) != 1 {
		t.Errorf("last_checked updates = %d, want 1", len(sources.touched))
	}
}

func TestIngestSourceNotModified(t *testing.T) {
	sources := &fakeSources{}
	indexer := &fakeIndexer{}
	o := New(sources,
		&fakeFetcher{err: fetch.ErrNotModified},
		&fakeNormalizer{}, &fakeDeduper{}, indexer,
		testIngestConfig(), log.NewNop())

	out := o.IngestSource(context.Background(), articleSource("https://a.example/post"))
	if out.Status != StatusUnchanged {
		t.Fatalf("Status = %v, want unchanged", out.Status)
	}
	if indexer.calls != 0 {
		t.Error("indexer called for unmodified content")
	}
	if len(sources.touched) != 1 {
		t.Error("last_checked must move even when content is unchanged")
	}
}

func TestIngestSourceUnchangedFingerprint(t *testing.T) {
	indexer := &fakeIndexer{}
	o := New(&fakeSources{},
		&fakeFetcher{page: fetch.Page{Body: []byte("x")}},
		&fakeNormalizer{result: articleResult()},
		&fakeDeduper{decision: ledger.DecisionUnchanged},
		indexer,
		testIngestConfig(), log.NewNop())

	out := o.IngestSource(context.Background(), articleSource("https://a.example/post"))
	if out.Status != StatusUnchanged {
		t.Fatalf("Status = %v, want unchanged", out.Status)
	}
	if indexer.calls != 0 {
		t.Error("indexer called for unchanged fingerprint")
	}
}

func TestIngestSourceFetchFailure(t *testing.T) {
	sources := &fakeSources{}
	indexer := &fakeIndexer{}
	o := New(sources,
		&fakeFetcher{err: &fetch.StatusError{URL: "https://a.example/post", StatusCode: 500}},
		&fakeNormalizer{}, &fakeDeduper{}, indexer,
		testIngestConfig(), log.NewNop())

	out := o.IngestSource(context.Background(), articleSource("https://a.example/post"))
	if out.Status != StatusFailed || out.State != StateFailed {
		t.Fatalf("Status/State = %v/%v, want failed/FAILED", out.Status, out.State)
	}
	if out.Err == nil {
		t.Error("Err not set on failure")
	}
	if indexer.calls != 0 {
		t.Error("a failed fetch must never touch the index")
	}
	if len(sources.touched) != 1 {
		t.Error("last_checked must move on failure too")
	}
}

func TestIngestSourceIndexPageSchedulesFollowUps(t *testing.T) {
	sources := &fakeSources{}
	indexer := &fakeIndexer{}
	o := New(sources,
		&fakeFetcher{page: fetch.Page{Body: []byte("x")}},
		&fakeNormalizer{result: normalize.Result{
			Class: normalize.ClassIndex,
			Links: []string{
				"https://a.example/posts/1",
				"https://a.example/posts/2",
				"https://a.example/posts/3",
				"https://a.example/posts/4",
				"https://a.example/posts/5",
			},
		}},
		&fakeDeduper{}, indexer,
		testIngestConfig(), log.NewNop())

	parent := articleSource("https://a.example/blog")
	parent.Tags = []string{"eng"}
	out := o.IngestSource(context.Background(), parent)

	if out.Status != StatusIndexPage {
		t.Fatalf("Status = %v, want index_page", out.Status)
	}
	if out.FollowUps != 3 {
		t.Errorf("FollowUps = %d, want bound of 3", out.FollowUps)
	}
	if indexer.calls != 0 {
		t.Error("index page body must not be indexed")
	}
	if len(sources.added) != 3 {
		t.Fatalf("registered sources = %d, want 3", len(sources.added))
	}
	for _, added := range sources.added {
		if added.Hint != normalize.HintArticle {
			t.Errorf("follow-up hint = %q, want article", added.Hint)
		}
		if len(added.Tags) != 1 || added.Tags[0] != "eng" {
			t.Errorf("follow-up tags = %v, want inherited [eng]", added.Tags)
		}
		if added.CheckFrequency != parent.CheckFrequency {
			t.Errorf("follow-up frequency = %v, want inherited %v", added.CheckFrequency, parent.CheckFrequency)
		}
	}
}

func TestIngestSourceBusy(t *testing.T) {
	fetcher := &fakeFetcher{
		page:    fetch.Page{Body: []byte("x")},
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	o := New(&fakeSources{}, fetcher,
		&fakeNormalizer{result: articleResult()},
		&fakeDeduper{decision: ledger.DecisionNew},
		&fakeIndexer{id: uuid.New()},
		testIngestConfig(), log.NewNop())

	src := articleSource("https://a.example/post")
	done := make(chan Outcome, 1)
	go func() { done <- o.IngestSource(context.Background(), src) }()
	<-fetcher.started

	busy := o.IngestSource(context.Background(), src)
	if busy.Status != StatusBusy {
		t.Errorf("concurrent run Status = %v, want busy", busy.Status)
	}

	close(fetcher.block)
	first := <-done
	if first.Status != StatusIndexed {
		t.Errorf("first run Status = %v, want indexed", first.Status)
	}

	// Token released: the source can run again.
	again := o.IngestSource(context.Background(), src)
	if again.Status == StatusBusy {
		t.Error("token not released after run finished")
	}
}

func TestRunCycleDueFilter(t *testing.T) {
	now := time.Now().UTC()
	sources := &fakeSources{sources: []store.Source{
		func() store.Source {
			s := articleSource("https://a.example/never-checked")
			return s
		}(),
		func() store.Source {
			s := articleSource("https://a.example/overdue")
			s.LastChecked = now.Add(-2 * time.Hour)
			return s
		}(),
		func() store.Source {
			s := articleSource("https://a.example/fresh")
			s.LastChecked = now.Add(-10 * time.Minute)
			return s
		}(),
	}}
	o := New(sources,
		&fakeFetcher{page: fetch.Page{Body: []byte("x")}},
		&fakeNormalizer{result: articleResult()},
		&fakeDeduper{decision: ledger.DecisionChanged},
		&fakeIndexer{id: uuid.New()},
		testIngestConfig(), log.NewNop())

	outcomes, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want the 2 due sources", len(outcomes))
	}
	for _, out := range outcomes {
		if out.SourceURL == "https://a.example/fresh" {
			t.Error("recently checked source was ingested")
		}
	}
}

func TestRunCycleOneFailureDoesNotStopOthers(t *testing.T) {
	sources := &fakeSources{sources: []store.Source{
		articleSource("https://a.example/1"),
		articleSource("https://a.example/2"),
	}}
	fetcher := &failingOnceFetcher{
		failURL: "https://a.example/1",
		page:    fetch.Page{Body: []byte("x")},
	}
	o := New(sources, fetcher,
		&fakeNormalizer{result: articleResult()},
		&fakeDeduper{decision: ledger.DecisionChanged},
		&fakeIndexer{id: uuid.New()},
		testIngestConfig(), log.NewNop())

	outcomes, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	byStatus := make(map[Status]int)
	for _, out := range outcomes {
		byStatus[out.Status]++
	}
	if byStatus[StatusFailed] != 1 || byStatus[StatusIndexed] != 1 {
		t.Errorf("outcomes by status = %v, want one failed and one indexed", byStatus)
	}
}

type failingOnceFetcher struct {
	failURL string
	page    fetch.Page
}

func (f *failingOnceFetcher) Fetch(_ context.Context, url string, _ time.Time) (fetch.Page, error) {
	if url == f.failURL {
		return fetch.Page{}, errors.New("connection refused")
	}
	page := f.page
	page.URL = url
	return page, nil
}

func TestRunCycleListError(t *testing.T) {
	o := New(&fakeSources{listErr: errors.New("pool closed")},
		&fakeFetcher{}, &fakeNormalizer{}, &fakeDeduper{}, &fakeIndexer{},
		testIngestConfig(), log.NewNop())

	if _, err := o.RunCycle(context.Background()); err == nil {
		t.Fatal("expected error when listing sources fails")
	}
}

func TestIngestSourcePassesHint(t *testing.T) {
	normalizer := &fakeNormalizer{result: articleResult()}
	o := New(&fakeSources{},
		&fakeFetcher{page: fetch.Page{Body: []byte("x")}},
		normalizer,
		&fakeDeduper{decision: ledger.DecisionUnchanged},
		&fakeIndexer{},
		testIngestConfig(), log.NewNop())

	src := articleSource("https://a.example/feed")
	src.Hint = normalize.HintFeed
	o.IngestSource(context.Background(), src)

	if normalizer.gotHint != normalize.HintFeed {
		t.Errorf("hint = %q, want feed", normalizer.gotHint)
	}
}

func TestStateAndStatusStrings(t *testing.T) {
	if StateFetching.String() != "FETCHING" || StateFailed.String() != "FAILED" {
		t.Error("State strings wrong")
	}
	if StatusIndexPage.String() != "index_page" || StatusBusy.String() != "busy" {
		t.Error("Status strings wrong")
	}
}
