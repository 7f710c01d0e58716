package vlm

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

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"bare array", `[1,2]`, `[1,2]`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`, true},
		{"leading prose", `Here you go: {"a":1}`, `{"a":1}`, true},
		{"trailing prose", `{"a":1} hope that helps`, `{"a":1}`, true},
		{"nested braces", `{"a":{"b":[1,{"c":2}]}}`, `{"a":{"b":[1,{"c":2}]}}`, true},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"no json", "sorry, I cannot do that", "", false},
		{"truncated", `{"a":[1,2`, `{"a":[1,2`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"trailing comma object", `{"a":1,}`},
		{"trailing comma array", `[1,2,]`},
		{"unclosed object", `{"a":{"b":1}`},
		{"unclosed array", `{"a":[1,2`},
		{"dangling string", `{"a":"unfinished`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out any
			assert.NoError(t, json.Unmarshal([]byte(RepairJSON(tt.input)), &out), RepairJSON(tt.input))
		})
	}
}

func TestCompleteJSON(t *testing.T) {
	ctx := context.Background()

	m := NewMock("```json\n{\"abstract\": \"short\", \"score\": 3}\n```")
	var out struct {
		Abstract string `json:"abstract"`
		Score    int    `json:"score"`
	}
	require.NoError(t, CompleteJSON(ctx, m, Request{Prompt: "summarize"}, &out))
	assert.Equal(t, "short", out.Abstract)
	assert.Equal(t, 3, out.Score)

	// Malformed but repairable payload.
	m = NewMock(`{"items": ["a", "b",], }`)
	var listOut struct {
		Items []string `json:"items"`
	}
	require.NoError(t, CompleteJSON(ctx, m, Request{}, &listOut))
	assert.Equal(t, []string{"a", "b"}, listOut.Items)

	// No JSON at all.
	m = NewMock("I refuse")
	err := CompleteJSON(ctx, m, Request{}, &out)
	assert.Equal(t, status.CodeVLMFailed, status.CodeOf(err))
}

func TestOpenAICompleteWithImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		parts, ok := req.Messages[1].Content.([]any)
		require.True(t, ok)
		require.Len(t, parts, 2)
		img := parts[1].(map[string]any)
		assert.Equal(t, "image_url", img["type"])
		url := img["image_url"].(map[string]any)["url"].(string)
		assert.Contains(t, url, "data:image/png;base64,")

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "a diagram"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	v, err := NewOpenAI(config.VLMConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	answer, err := v.Complete(context.Background(), Request{
		System: "describe images",
		Prompt: "what is this?",
		Images: []Image{{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a diagram", answer)
}

func TestOpenAIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "context length exceeded"},
		})
	}))
	defer srv.Close()

	v, err := NewOpenAI(config.VLMConfig{APIKey: "sk", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = v.Complete(context.Background(), Request{Prompt: "hi"})
	assert.Equal(t, status.CodeVLMFailed, status.CodeOf(err))
	assert.Contains(t, err.Error(), "context length exceeded")
}
