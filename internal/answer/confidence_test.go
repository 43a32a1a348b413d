package answer

import (
	"testing"

	"github.com/veillehq/veille/internal/store"
)

func chunk(sourceURL string, similarity float32) store.RetrievedChunk {
	return store.RetrievedChunk{
		SourceURL:  sourceURL,
		Similarity: similarity,
	}
}

func TestGrade(t *testing.T) {
	const (
		strong = 0.78
		weak   = 0.60
	)
	tests := []struct {
		name   string
		chunks []store.RetrievedChunk
		want   Confidence
	}{
		{
			name:   "empty retrieval",
			chunks: nil,
			want:   ConfidenceLow,
		},
		{
			name: "strong match with two supporting sources",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.85),
				chunk("https://b.example/post", 0.65),
			},
			want: ConfidenceHigh,
		},
		{
			name: "strong match at exact thresholds",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.78),
				chunk("https://b.example/post", 0.60),
			},
			want: ConfidenceHigh,
		},
		{
			// A lone strong source caps at MEDIUM; HIGH always needs a
			// second agreeing source.
			name: "strong match but single source",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.85),
				chunk("https://a.example/post", 0.80),
			},
			want: ConfidenceMedium,
		},
		{
			name: "strong match with weak second source below weak",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.85),
				chunk("https://b.example/post", 0.40),
			},
			want: ConfidenceMedium,
		},
		{
			name: "weak match only",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.62),
			},
			want: ConfidenceMedium,
		},
		{
			name: "everything below weak",
			chunks: []store.RetrievedChunk{
				chunk("https://a.example/post", 0.55),
				chunk("https://b.example/post", 0.50),
			},
			want: ConfidenceLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Grade(tt.chunks, strong, weak); got != tt.want {
				t.Errorf("Grade() = %v, want %v", got, tt.want)
			}
		})
	}
}
