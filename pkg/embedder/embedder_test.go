package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

func TestMockIsDeterministic(t *testing.T) {
	m := NewMock(8)
	ctx := context.Background()

	a, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "hello")
	require.NoError(t, err)
	c, err := m.Embed(ctx, "world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 8)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestOpenAIEmbed(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"model": req.Model, "data": []map[string]any{}}
		// Answer out of order; the client must restore input order.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOpenAI(config.EmbeddingConfig{
		APIKey:    "sk-test",
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-small",
		Dimension: 2,
	})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{2, 1}, vectors[2])
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAI(config.EmbeddingConfig{APIKey: "sk-bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	assert.Equal(t, status.CodeEmbeddingFailed, status.CodeOf(err))
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(config.EmbeddingConfig{})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}

func TestFactory(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "mock", Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimension())

	_, err = New(config.EmbeddingConfig{Provider: "bogus"})
	assert.Equal(t, status.CodeInvalidArgument, status.CodeOf(err))
}
