package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"
)

// SkillFile is the canonical document name of a skill node.
const SkillFile = "SKILL.md"

// SkillMeta is the YAML frontmatter of a SKILL.md document.
type SkillMeta struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	AllowedTools []string `yaml:"allowed-tools,omitempty" json:"allowed_tools,omitempty"`
	Tags         []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// SkillInput names one skill source. Exactly one of Dir, Path, Text, or
// Tool must be set.
type SkillInput struct {
	// Dir is a directory holding SKILL.md plus auxiliary files.
	Dir string
	// Path is a single markdown file.
	Path string
	// Text is raw SKILL.md content.
	Text string
	// Tool converts an MCP tool definition into a skill document.
	Tool *mcp.Tool
}

// SkillResult reports an installed skill.
type SkillResult struct {
	URI      uri.URI  `json:"uri"`
	Name     string   `json:"name"`
	AuxFiles []string `json:"aux_files,omitempty"`
}

// Skill installs skills under agent/skills.
type Skill struct {
	fs     *vikingfs.FS
	vlm    vlm.VLM
	queues *queue.Manager
	log    *slog.Logger
}

func NewSkill(fs *vikingfs.FS, v vlm.VLM, queues *queue.Manager) *Skill {
	return &Skill{fs: fs, vlm: v, queues: queues, log: logger.GetLogger("processor")}
}

// Add parses a skill source, generates its overview, writes the node
// bundle, copies auxiliary files, and enqueues the embedding.
func (p *Skill) Add(ctx context.Context, in SkillInput) (*SkillResult, error) {
	text, auxDir, err := p.load(in)
	if err != nil {
		return nil, err
	}
	meta, body, err := ParseSkill(text)
	if err != nil {
		return nil, err
	}
	if meta.Name == "" {
		return nil, status.InvalidArgument("skill frontmatter requires a name")
	}

	target := uri.Root(uri.ScopeAgent).Join("skills").JoinSanitized(meta.Name)

	overview, err := p.vlm.Complete(ctx, vlm.Request{
		System: skillOverviewSystemPrompt,
		Prompt: skillOverviewPrompt(text),
	})
	if err != nil {
		return nil, err
	}

	abstract := meta.Description
	if abstract == "" {
		abstract = seedFromBody(body)
	}
	if err := p.fs.WriteContext(ctx, target, vikingfs.WriteContextInput{
		Content:         []byte(text),
		ContentFilename: SkillFile,
		Abstract:        abstract,
		Overview:        strings.TrimSpace(overview),
		IsLeaf:          true,
		VectorizeText:   abstract,
		Fields: map[string]any{
			"skill_name":    meta.Name,
			"allowed_tools": meta.AllowedTools,
			"tags":          meta.Tags,
		},
	}); err != nil {
		return nil, err
	}

	var aux []string
	if auxDir != "" {
		if aux, err = p.copyAux(ctx, auxDir, target); err != nil {
			return nil, err
		}
	}

	if _, err := p.queues.Enqueue(ctx, queue.EmbeddingQueue, &EmbeddingTask{
		URI:           target.String(),
		VectorizeText: abstract,
	}); err != nil {
		return nil, err
	}

	p.log.Info("skill installed", "uri", target.String(), "name", meta.Name, "aux_files", len(aux))
	return &SkillResult{URI: target, Name: meta.Name, AuxFiles: aux}, nil
}

func (p *Skill) load(in SkillInput) (text, auxDir string, err error) {
	switch {
	case in.Tool != nil:
		return SkillFromTool(in.Tool), "", nil
	case in.Text != "":
		return in.Text, "", nil
	case in.Path != "":
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return "", "", status.NotFound("skill file not found: %s", in.Path)
		}
		return string(data), "", nil
	case in.Dir != "":
		data, err := os.ReadFile(filepath.Join(in.Dir, SkillFile))
		if err != nil {
			return "", "", status.NotFound("%s has no %s", in.Dir, SkillFile)
		}
		return string(data), in.Dir, nil
	}
	return "", "", status.InvalidArgument("skill input requires a dir, path, text, or tool")
}

// copyAux copies every file except SKILL.md into the skill node,
// preserving relative paths.
func (p *Skill) copyAux(ctx context.Context, dir string, target uri.URI) ([]string, error) {
	var copied []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == SkillFile || strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return status.New(status.CodeProcessingError, "read aux file %s", path).WithCause(err)
		}
		if err := p.fs.WriteFile(ctx, target.Join(rel), data); err != nil {
			return err
		}
		copied = append(copied, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(copied)
	return copied, nil
}

// ParseSkill splits a SKILL.md document into frontmatter and body. A
// document without frontmatter yields zero meta and the full body.
func ParseSkill(text string) (SkillMeta, string, error) {
	var meta SkillMeta
	trimmed := strings.TrimLeft(text, "\uFEFF\r\n ")
	if !strings.HasPrefix(trimmed, "---\n") {
		return meta, text, nil
	}
	rest := strings.TrimPrefix(trimmed, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, "", status.InvalidArgument("unterminated skill frontmatter")
	}
	front := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")
	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return meta, "", status.InvalidArgument("bad skill frontmatter").WithCause(err)
	}
	return meta, body, nil
}

// SkillFromTool renders an MCP tool definition as a SKILL.md document
// with a parameters section derived from the input schema.
func SkillFromTool(tool *mcp.Tool) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", tool.Name)
	fmt.Fprintf(&b, "description: %s\n", strings.ReplaceAll(tool.Description, "\n", " "))
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n%s\n", tool.Name, tool.Description)

	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return b.String()
	}
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, r := range tool.InputSchema.Required {
		required[r] = true
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("\n## Parameters\n\n")
	for _, name := range names {
		typ, desc := "any", ""
		if m, ok := props[name].(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				typ = t
			}
			if d, ok := m["description"].(string); ok {
				desc = d
			}
		}
		marker := "optional"
		if required[name] {
			marker = "required"
		}
		fmt.Fprintf(&b, "- `%s` (%s, %s)", name, typ, marker)
		if desc != "" {
			fmt.Fprintf(&b, ": %s", desc)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func seedFromBody(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	r := []rune(body)
	if len(r) > 200 {
		return string(r[:200])
	}
	return body
}
