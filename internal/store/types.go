package store

import (
	"time"

	"github.com/google/uuid"
)

// Source is a monitored URL. Identity is the canonical URL; sources are
// soft-deactivated, never deleted, while content records reference them.
type Source struct {
	URL            string
	Active         bool
	Tags           []string
	Hint           string // page type hint: auto, article, index, feed
	CheckFrequency time.Duration // how often the scheduler revisits
	LastChecked    time.Time     // zero until first fetch attempt
	LastModified   time.Time     // zero until first content change
	AddedAt        time.Time
}

// ContentRecord is one fetched version of a source. Append-only: records
// are never mutated after creation, only promoted/demoted via is_current
// and pruned by age.
type ContentRecord struct {
	ID          uuid.UUID
	SourceURL   string
	Title       string
	Content     string
	Fingerprint string
	WordCount   int
	RetrievedAt time.Time
	Metadata    map[string]string
	IsCurrent   bool
}

// Chunk is a contiguous slice of a record's text, the unit of embedding
// and retrieval. Fingerprint = hash(record fingerprint, seq).
type Chunk struct {
	Fingerprint string
	RecordID    uuid.UUID
	Seq         int
	Content     string
	Embedding   []float32
}

// RetrievedChunk is a chunk returned from vector search together with its
// owning record's provenance and the cosine similarity score.
type RetrievedChunk struct {
	Chunk       Chunk
	SourceURL   string
	Title       string
	RetrievedAt time.Time
	Similarity  float32
}

// QueryLog is one answered question. Append-only; feedback may be set later.
type QueryLog struct {
	ID         uuid.UUID
	Question   string
	Answer     string
	Citations  []string
	Confidence string
	Latency    time.Duration
	Feedback   int // 0 = none, otherwise 1..5
	CreatedAt  time.Time
}
