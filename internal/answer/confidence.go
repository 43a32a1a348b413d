package answer

import "github.com/veillehq/veille/internal/store"

// Confidence grades how well the local index supports an answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Grade computes confidence from retrieval scores alone. Deterministic: the
// same chunks and thresholds always grade the same.
//
//	HIGH:   best similarity >= strong, and at least two distinct sources
//	        score >= weak
//	MEDIUM: best similarity >= strong from a single source, or best >= weak
//	LOW:    everything else, including empty retrieval
func Grade(chunks []store.RetrievedChunk, strong, weak float32) Confidence {
	if len(chunks) == 0 {
		return ConfidenceLow
	}

	var best float32
	supporting := make(map[string]struct{})
	for _, c := range chunks {
		if c.Similarity > best {
			best = c.Similarity
		}
		if c.Similarity >= weak {
			supporting[c.SourceURL] = struct{}{}
		}
	}

	switch {
	case best >= strong && len(supporting) >= 2:
		return ConfidenceHigh
	case best >= weak:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
