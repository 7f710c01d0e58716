// Package embedder produces vector embeddings from text. Vectors feed the
// collection layer; callers never talk to the embedding API directly.
package embedder

import (
	"context"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

// Embedder converts text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds multiple texts in one round trip where the
	// provider supports it. Output order matches input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Close() error
}

// New builds the embedder named by the configuration.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg)
	case "mock":
		return NewMock(cfg.Dimension), nil
	}
	return nil, status.InvalidArgument("unknown embedding provider: %s", cfg.Provider)
}
