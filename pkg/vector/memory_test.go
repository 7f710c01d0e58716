package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/status"
)

func seedProvider(t *testing.T, p Provider) {
	t.Helper()
	ctx := context.Background()
	created, err := p.CreateCollection(ctx, "context", 3)
	require.NoError(t, err)
	require.True(t, created)

	records := []*Record{
		{URI: "viking://resources/docs/a", ContextType: "resource", DenseVector: []float32{1, 0, 0}},
		{URI: "viking://resources/docs/b", ContextType: "resource", DenseVector: []float32{0.9, 0.1, 0}},
		{URI: "viking://user/memories/profile", ContextType: "memory", User: "alice", DenseVector: []float32{0, 1, 0}},
	}
	require.NoError(t, p.Upsert(ctx, "context", records))
}

func TestMemoryProviderSearch(t *testing.T) {
	p := NewMemoryProvider()
	seedProvider(t, p)
	ctx := context.Background()

	results, err := p.Search(ctx, "context", []float32{1, 0, 0}, nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "viking://resources/docs/a", results[0].Record.URI)
	assert.Greater(t, results[0].Score, results[1].Score)

	// Filtered search only sees the matching subtree.
	results, err = p.Search(ctx, "context", []float32{0, 1, 0},
		Prefix("uri", "viking://user/memories"), 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "memory", results[0].Record.ContextType)

	// Threshold drops distant records.
	results, err = p.Search(ctx, "context", []float32{1, 0, 0}, nil, 10, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemoryProviderFetchAndDelete(t *testing.T) {
	p := NewMemoryProvider()
	seedProvider(t, p)
	ctx := context.Background()

	idA := RecordID("viking://resources/docs/a")
	found, missing, err := p.Fetch(ctx, "context", []uint64{idA, 12345})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "viking://resources/docs/a", found[0].URI)
	assert.Equal(t, []uint64{12345}, missing)

	require.NoError(t, p.Delete(ctx, "context", []uint64{idA}))
	_, missing, err = p.Fetch(ctx, "context", []uint64{idA})
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestMemoryProviderDeleteByFilter(t *testing.T) {
	p := NewMemoryProvider()
	seedProvider(t, p)
	ctx := context.Background()

	require.NoError(t, p.DeleteByFilter(ctx, "context", Prefix("uri", "viking://resources/docs")))

	counts, err := p.Count(ctx, "context", nil, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["_total"])
}

func TestMemoryProviderCountGroupBy(t *testing.T) {
	p := NewMemoryProvider()
	seedProvider(t, p)
	ctx := context.Background()

	counts, err := p.Count(ctx, "context", nil, "context_type")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["resource"])
	assert.Equal(t, int64(1), counts["memory"])

	counts, err = p.Count(ctx, "context", Eq("user", "nobody"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["_total"])
}

func TestMemoryProviderDimensionMismatch(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	_, err := p.CreateCollection(ctx, "context", 3)
	require.NoError(t, err)

	err = p.Upsert(ctx, "context", []*Record{
		{URI: "viking://resources/x", DenseVector: []float32{1, 0}},
	})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestMemoryProviderUnknownCollection(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	_, _, err := p.Fetch(ctx, "nope", []uint64{1})
	assert.Equal(t, status.CodeNotFound, status.CodeOf(err))
}

func TestRecordIDStable(t *testing.T) {
	a := RecordID("viking://resources/docs/a")
	assert.Equal(t, a, RecordID("viking://resources/docs/a"))
	assert.NotEqual(t, a, RecordID("viking://resources/docs/b"))
	assert.NotZero(t, a)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, Cosine(nil, []float32{1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
}

func TestChromemProviderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := NewChromemProvider(dir)
	require.NoError(t, err)
	seedProvider(t, p)
	ctx := context.Background()

	results, err := p.Search(ctx, "context", []float32{1, 0, 0}, nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "viking://resources/docs/a", results[0].Record.URI)

	// Requesting more results than stored documents must not error.
	results, err = p.Search(ctx, "context", []float32{1, 0, 0}, nil, 100, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	require.NoError(t, p.Close())

	// A fresh provider sees the persisted records.
	p2, err := NewChromemProvider(dir)
	require.NoError(t, err)
	found, missing, err := p2.Fetch(ctx, "context", []uint64{RecordID("viking://user/memories/profile")})
	require.NoError(t, err)
	assert.Empty(t, missing)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].User)

	counts, err := p2.Count(ctx, "context", nil, "context_type")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["resource"])
	require.NoError(t, p2.Close())
}

func TestChromemProviderFilteredSearch(t *testing.T) {
	p, err := NewChromemProvider("")
	require.NoError(t, err)
	seedProvider(t, p)
	ctx := context.Background()

	results, err := p.Search(ctx, "context", []float32{0.5, 0.5, 0},
		Eq("context_type", "resource"), 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "resource", r.Record.ContextType, fmt.Sprint(r.Record))
	}
}
