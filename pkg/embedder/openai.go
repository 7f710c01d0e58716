package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

const defaultMaxRetries = 3

// OpenAI talks to an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	batchSize int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewOpenAI(cfg config.EmbeddingConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, status.InvalidArgument("embedding.api_key is required for the openai provider")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OpenAI{
		client:    &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
	}, nil
}

func (e *OpenAI) Dimension() int { return e.dimension }
func (e *OpenAI) Model() string  { return e.model }
func (e *OpenAI) Close() error   { return nil }

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, status.New(status.CodeEmbeddingFailed, "empty embedding response")
	}
	return vectors[0], nil
}

func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.request(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-i {
			return nil, status.New(status.CodeEmbeddingFailed,
				"embedding count mismatch: sent %d, got %d", end-i, len(vectors))
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (e *OpenAI) request(ctx context.Context, input []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, status.Internal("marshal embedding request").WithCause(err)
	}

	var resp *http.Response
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/embeddings", bytes.NewReader(reqBody))
		if reqErr != nil {
			return nil, status.Internal("create embedding request").WithCause(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err = e.client.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError &&
			resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
		if attempt < defaultMaxRetries-1 {
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return nil, status.New(status.CodeEmbeddingFailed, "embedding request failed").WithCause(err)
	}
	if resp == nil {
		return nil, status.New(status.CodeEmbeddingFailed, "embedding service unavailable after %d attempts", defaultMaxRetries)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, status.New(status.CodeEmbeddingFailed, "read embedding response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, status.New(status.CodeEmbeddingFailed,
				"embedding API error: %s (type: %s)", apiErr.Error.Message, apiErr.Error.Type)
		}
		return nil, status.New(status.CodeEmbeddingFailed,
			"embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, status.New(status.CodeEmbeddingFailed, "decode embedding response").WithCause(err)
	}

	// Responses may arrive out of order; index restores input order.
	vectors := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	return vectors, nil
}

var _ Embedder = (*OpenAI)(nil)
