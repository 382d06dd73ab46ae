// Package embedding provides the vector-embedding capability: an
// Ollama-compatible HTTP client, a deterministic local fallback, and the
// asynchronous worker queue that embeds rows after their write commits.
package embedding

import (
	"context"

	"github.com/engram-memory/engram/pkg/config"
)

// Client produces fixed-dimension vectors for text. Implementations must
// return vectors of exactly Dimension() entries.
type Client interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the pinned vector width.
	Dimension() int
}

// NewClient builds the client selected by the embedding config. Provider
// "ollama" talks to an Ollama-compatible endpoint; "none" selects the
// deterministic local embedder.
func NewClient(cfg *config.EmbeddingConfig) Client {
	switch cfg.Provider {
	case "ollama":
		return newOllamaClient(cfg)
	default:
		return NewLocalEmbedder(cfg.Dimension)
	}
}
