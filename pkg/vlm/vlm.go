// Package vlm wraps the vision-language model behind a small completion
// interface. Summarization, memory extraction, and intent analysis all go
// through it; nothing else in the tree talks to the model API.
package vlm

import (
	"context"
	"encoding/json"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/status"
)

// Image is an inline image attachment.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one completion call. Images are optional; providers without
// vision support may reject them.
type Request struct {
	System string
	Prompt string
	Images []Image
	// MaxTokens overrides the configured cap when positive.
	MaxTokens int
}

// VLM completes prompts, optionally grounded on images.
type VLM interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
	Close() error
}

// New builds the provider named by the configuration.
func New(cfg config.VLMConfig) (VLM, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg)
	case "mock":
		return NewMock(), nil
	}
	return nil, status.InvalidArgument("unknown vlm provider: %s", cfg.Provider)
}

// CompleteJSON runs a completion and decodes the model's answer into out,
// tolerating code fences and prose around the JSON payload.
func CompleteJSON(ctx context.Context, v VLM, req Request, out any) error {
	raw, err := v.Complete(ctx, req)
	if err != nil {
		return err
	}
	payload, ok := ExtractJSON(raw)
	if !ok {
		return status.New(status.CodeVLMFailed, "no JSON found in model response")
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		repaired := RepairJSON(payload)
		if err2 := json.Unmarshal([]byte(repaired), out); err2 != nil {
			return status.New(status.CodeVLMFailed, "model response is not valid JSON").WithCause(err)
		}
	}
	return nil
}
