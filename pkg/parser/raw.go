package parser

import (
	"context"
	"os"
	"path/filepath"

	"github.com/openviking/openviking/pkg/status"
)

// RawParser handles plain text and any extension nothing else claims.
type RawParser struct{}

func NewRawParser() *RawParser { return &RawParser{} }

func (p *RawParser) Name() string { return "raw" }

func (p *RawParser) Extensions() []string {
	return []string{".txt", ".log", ".json", ".yaml", ".yml", ".toml", ".csv"}
}

func (p *RawParser) Parse(_ context.Context, src Source) (*Node, []string, error) {
	data, name, err := loadSource(src)
	if err != nil {
		return nil, nil, err
	}
	text, enc := DecodeText(data)
	return &Node{
		Type:         NodeLeaf,
		Title:        stripExt(name),
		AbstractSeed: seedAbstract(text),
		Body:         []byte(text),
		ContentName:  contentFileName(name),
		Meta:         map[string]any{"encoding": enc},
	}, nil, nil
}

func loadSource(src Source) ([]byte, string, error) {
	if src.Content != nil {
		name := src.Name
		if name == "" {
			name = "content.md"
		}
		return src.Content, name, nil
	}
	if src.Path == "" {
		return nil, "", status.InvalidArgument("source has neither path nor content")
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", status.NotFound("source file not found: %s", src.Path)
		}
		return nil, "", status.New(status.CodeProcessingError, "read %s", src.Path).WithCause(err)
	}
	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	return data, name, nil
}

func contentFileName(sourceName string) string {
	base := filepath.Base(sourceName)
	if base == "" || base == "." {
		return "content.md"
	}
	return base
}
