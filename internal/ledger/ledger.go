// Package ledger decides whether fetched content is new, changed, or
// unchanged, based on fingerprints of normalized text. It is the single
// gate preventing redundant embedding work on every scheduled tick.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
)

// Decision is the outcome of comparing fetched content against the
// source's last known fingerprint.
type Decision int

const (
	// DecisionNew means no prior record exists for the source.
	DecisionNew Decision = iota
	// DecisionUnchanged means fingerprints match; only last_checked moves.
	DecisionUnchanged
	// DecisionChanged means the source's content differs from its current record.
	DecisionChanged
)

// String implements fmt.Stringer for log output.
func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "NEW"
	case DecisionUnchanged:
		return "UNCHANGED"
	case DecisionChanged:
		return "CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Fingerprint returns the stable content hash of normalized text.
// Hashing normalized text rather than raw bytes means markup churn the
// normalizer already strips (ad tags, boilerplate timestamps) cannot
// produce false "changed" signals.
func Fingerprint(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// ChunkFingerprint derives a chunk key from its record's fingerprint and
// sequence index. A changed record therefore yields an entirely new chunk
// key set, which is what makes insert-then-retire swaps collision-free.
func ChunkFingerprint(recordFingerprint string, seq int) string {
	sum := sha256.Sum256([]byte(recordFingerprint + ":" + strconv.Itoa(seq)))
	return hex.EncodeToString(sum[:])
}

// FingerprintReader is the storage view the ledger needs.
type FingerprintReader interface {
	// CurrentFingerprint returns the source's current record fingerprint;
	// ok is false when the source has never been indexed.
	CurrentFingerprint(ctx context.Context, sourceURL string) (fingerprint string, ok bool, err error)
}

// Ledger compares fetched content against stored fingerprints.
type Ledger struct {
	reader FingerprintReader
	logger *slog.Logger
}

// New creates a Ledger.
func New(reader FingerprintReader, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{reader: reader, logger: logger}
}

// Decide computes the fingerprint of newText and classifies the fetch.
// The returned fingerprint is always that of newText, whatever the decision.
func (l *Ledger) Decide(ctx context.Context, sourceURL, newText string) (Decision, string, error) {
	fp := Fingerprint(newText)

	known, ok, err := l.reader.CurrentFingerprint(ctx, sourceURL)
	if err != nil {
		return 0, "", fmt.Errorf("ledger decide for %q: %w", sourceURL, err)
	}

	var decision Decision
	switch {
	case !ok:
		decision = DecisionNew
	case known == fp:
		decision = DecisionUnchanged
	default:
		decision = DecisionChanged
	}

	l.logger.Debug("dedup decision", "source", sourceURL, "decision", decision.String())
	return decision, fp, nil
}
