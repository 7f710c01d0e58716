package embedder

import (
	"context"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Mock derives deterministic unit vectors from text. Similar inputs do not
// produce similar vectors; it exists so tests and offline runs can exercise
// the pipeline without a live embedding service.
type Mock struct {
	dimension int
}

func NewMock(dimension int) *Mock {
	if dimension <= 0 {
		dimension = 16
	}
	return &Mock{dimension: dimension}
}

func (m *Mock) Dimension() int { return m.dimension }
func (m *Mock) Model() string  { return "mock" }
func (m *Mock) Close() error   { return nil }

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, m.dimension)
	seed := xxhash.Sum64String(text)
	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
		norm += float64(v[i]) * float64(v[i])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}

func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

var _ Embedder = (*Mock)(nil)
