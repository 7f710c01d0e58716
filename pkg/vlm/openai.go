package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

// OpenAI talks to an OpenAI-compatible /chat/completions endpoint. Images
// ride along as data-URI content parts.
type OpenAI struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func NewOpenAI(cfg config.VLMConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, status.InvalidArgument("vlm.api_key is required for the openai provider")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		client:      &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (v *OpenAI) Model() string { return v.model }
func (v *OpenAI) Close() error  { return nil }

func (v *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	if len(req.Images) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	} else {
		parts := make([]contentPart, 0, len(req.Images)+1)
		parts = append(parts, contentPart{Type: "text", Text: req.Prompt})
		for _, img := range req.Images {
			uri := fmt.Sprintf("data:%s;base64,%s",
				img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	maxTokens := v.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model:       v.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: v.temperature,
	})
	if err != nil {
		return "", status.Internal("marshal completion request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", status.Internal("create completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return "", status.New(status.CodeVLMFailed, "completion request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", status.New(status.CodeVLMFailed, "read completion response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", status.New(status.CodeVLMFailed, "vlm API error: %s", apiErr.Error.Message)
		}
		return "", status.New(status.CodeVLMFailed,
			"vlm API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", status.New(status.CodeVLMFailed, "decode completion response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return "", status.New(status.CodeVLMFailed, "completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var _ VLM = (*OpenAI)(nil)
