package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/ledger"
	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/store"
	"github.com/veillehq/veille/internal/testutil"
)

// fakeRecordStore records call order so tests can assert the swap sequence.
type fakeRecordStore struct {
	ops []string

	insertedRecord store.ContentRecord
	insertedChunks []store.Chunk
	previousID     uuid.UUID
	deletedID      uuid.UUID

	insertRecordErr error
	insertChunksErr error
	promoteErr      error
	deleteErr       error

	// countShortfall makes CountRecordChunks report fewer chunks than
	// were inserted.
	countShortfall int
	countErr       error
}

func (f *fakeRecordStore) InsertRecord(_ context.Context, rec store.ContentRecord) error {
	f.ops = append(f.ops, "insert_record")
	f.insertedRecord = rec
	return f.insertRecordErr
}

func (f *fakeRecordStore) InsertChunks(_ context.Context, chunks []store.Chunk) error {
	f.ops = append(f.ops, "insert_chunks")
	f.insertedChunks = chunks
	return f.insertChunksErr
}

func (f *fakeRecordStore) CountRecordChunks(_ context.Context, _ uuid.UUID) (int, error) {
	f.ops = append(f.ops, "count_chunks")
	return len(f.insertedChunks) - f.countShortfall, f.countErr
}

func (f *fakeRecordStore) PromoteRecord(_ context.Context, _ string, _ uuid.UUID) (uuid.UUID, error) {
	f.ops = append(f.ops, "promote")
	return f.previousID, f.promoteErr
}

func (f *fakeRecordStore) DeleteRecordChunks(_ context.Context, id uuid.UUID) (int64, error) {
	f.ops = append(f.ops, "delete_old")
	f.deletedID = id
	return 1, f.deleteErr
}

func (f *fakeRecordStore) PruneRecords(_ context.Context, _ time.Time) (int64, error) {
	f.ops = append(f.ops, "prune")
	return 2, nil
}

func newTestIndexer(t *testing.T, fake *fakeRecordStore) *Indexer {
	t.Helper()
	setup := testutil.SetupMockAI(t)
	chunker := NewChunker(config.ChunkingConfig{Size: 200, Overlap: 40})
	return New(fake, setup.Embedder, chunker, nil, log.NewNop())
}

func testDoc() Document {
	text := "First paragraph about the topic.\n\nSecond paragraph with more detail on the topic."
	return Document{
		SourceURL:   "https://example.com/post",
		Title:       "A Post",
		Text:        text,
		Fingerprint: ledger.Fingerprint(text),
		RetrievedAt: time.Now().UTC(),
	}
}

func TestIndexSwapSequence(t *testing.T) {
	oldID := uuid.New()
	fake := &fakeRecordStore{previousID: oldID}
	ix := newTestIndexer(t, fake)

	recordID, err := ix.Index(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if recordID == uuid.Nil {
		t.Fatal("Index() returned nil record ID")
	}

	want := []string{"insert_record", "insert_chunks", "count_chunks", "promote", "delete_old"}
	if len(fake.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", fake.ops, want)
	}
	for i := range want {
		if fake.ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", fake.ops, want)
		}
	}
	if fake.deletedID != oldID {
		t.Errorf("retired record = %s, want %s", fake.deletedID, oldID)
	}
	if fake.insertedRecord.IsCurrent {
		t.Error("new record must be staged, not current, before promotion")
	}
}

func TestIndexFirstGenerationSkipsRetire(t *testing.T) {
	fake := &fakeRecordStore{previousID: uuid.Nil}
	ix := newTestIndexer(t, fake)

	if _, err := ix.Index(context.Background(), testDoc()); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	for _, op := range fake.ops {
		if op == "delete_old" {
			t.Error("delete_old called with no previous generation")
		}
	}
}

func TestIndexChunkFingerprints(t *testing.T) {
	fake := &fakeRecordStore{}
	ix := newTestIndexer(t, fake)
	doc := testDoc()

	if _, err := ix.Index(context.Background(), doc); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if len(fake.insertedChunks) == 0 {
		t.Fatal("no chunks inserted")
	}

	seen := make(map[string]struct{})
	for i, c := range fake.insertedChunks {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
		if want := ledger.ChunkFingerprint(doc.Fingerprint, i); c.Fingerprint != want {
			t.Errorf("chunk %d fingerprint = %s, want %s", i, c.Fingerprint, want)
		}
		if _, dup := seen[c.Fingerprint]; dup {
			t.Errorf("duplicate chunk fingerprint at seq %d", i)
		}
		seen[c.Fingerprint] = struct{}{}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
	}
}

func TestIndexEmptyTextFails(t *testing.T) {
	fake := &fakeRecordStore{}
	ix := newTestIndexer(t, fake)

	doc := testDoc()
	doc.Text = ""
	if _, err := ix.Index(context.Background(), doc); err == nil {
		t.Fatal("Index() with empty text should fail")
	}
	if len(fake.ops) != 0 {
		t.Errorf("store touched despite empty text: %v", fake.ops)
	}
}

func TestIndexChunkCountMismatchFailsBeforePromote(t *testing.T) {
	fake := &fakeRecordStore{countShortfall: 1}
	ix := newTestIndexer(t, fake)

	_, err := ix.Index(context.Background(), testDoc())
	if !errors.Is(err, ErrIndexInconsistent) {
		t.Fatalf("Index() error = %v, want ErrIndexInconsistent", err)
	}
	for _, op := range fake.ops {
		if op == "promote" || op == "delete_old" {
			t.Errorf("%s must not run on a chunk/record mismatch", op)
		}
	}
}

func TestIndexPromoteFailureLeavesOldGeneration(t *testing.T) {
	promoteErr := errors.New("tx aborted")
	fake := &fakeRecordStore{promoteErr: promoteErr}
	ix := newTestIndexer(t, fake)

	_, err := ix.Index(context.Background(), testDoc())
	if !errors.Is(err, promoteErr) {
		t.Fatalf("Index() error = %v, want wrapped %v", err, promoteErr)
	}
	for _, op := range fake.ops {
		if op == "delete_old" {
			t.Error("delete_old must not run when promotion fails")
		}
	}
}

func TestPrune(t *testing.T) {
	fake := &fakeRecordStore{}
	ix := newTestIndexer(t, fake)

	n, err := ix.Prune(context.Background(), time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
}
