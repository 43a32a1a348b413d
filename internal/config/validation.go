package config

import (
	"fmt"
	"slices"
	"strings"
)

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

var validWebSearchModes = []string{WebSearchAuto, WebSearchAlways, WebSearchOff}

// Validate checks the configuration for consistency.
// Returns a sentinel error (wrapped with detail) on the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDim < 1 || c.EmbedderDim > 4096 {
		return fmt.Errorf("%w: dimension %d out of range [1, 4096]", ErrInvalidEmbedderDimension, c.EmbedderDim)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (valid: %s)", ErrInvalidPostgresSSLMode,
			c.PostgresSSLMode, strings.Join(validSSLModes, ", "))
	}

	if c.Chunking.Size < 100 {
		return fmt.Errorf("%w: chunk size %d below minimum 100", ErrInvalidChunking, c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: overlap %d must be in [0, size)", ErrInvalidChunking, c.Chunking.Overlap)
	}

	for _, t := range []float32{c.Query.StrongSimilarity, c.Query.WeakSimilarity} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%w: %v out of [0, 1]", ErrInvalidThreshold, t)
		}
	}
	if c.Query.WeakSimilarity > c.Query.StrongSimilarity {
		return fmt.Errorf("%w: weak threshold %v above strong %v",
			ErrInvalidThreshold, c.Query.WeakSimilarity, c.Query.StrongSimilarity)
	}

	if !slices.Contains(validWebSearchModes, c.Query.WebSearch) {
		return fmt.Errorf("%w: %q (valid: %s)", ErrInvalidWebSearchMode,
			c.Query.WebSearch, strings.Join(validWebSearchModes, ", "))
	}

	return nil
}
