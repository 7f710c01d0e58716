// Package processor orchestrates ingestion: resources through the parser
// chain, skills through the frontmatter pipeline, and the queue handlers
// that produce embeddings and semantic sidecars.
package processor

import (
	"context"
	"strings"

	"github.com/openviking/openviking/pkg/embedder"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vector"
	"github.com/openviking/openviking/pkg/vikingfs"
	"github.com/openviking/openviking/pkg/vlm"
)

// SemanticTarget selects which sidecars a semantic task produces.
type SemanticTarget string

const (
	TargetAbstract SemanticTarget = "abstract"
	TargetOverview SemanticTarget = "overview"
	TargetBoth     SemanticTarget = "both"
)

// EmbeddingTask asks a worker to vectorize one node and upsert its record.
type EmbeddingTask struct {
	URI           string `json:"uri"`
	VectorizeText string `json:"vectorize_text,omitempty"`
}

// SemanticTask asks a worker to generate sidecar text for one node.
type SemanticTask struct {
	URI     string         `json:"uri"`
	Content string         `json:"content,omitempty"`
	Target  SemanticTarget `json:"target"`
}

// EmbeddingHandler builds the handler bound to the embedding queue. A node
// deleted between enqueue and processing is not an error.
func EmbeddingHandler(fs *vikingfs.FS, col *vector.Collection, emb embedder.Embedder) queue.Handler {
	return func(ctx context.Context, msg *queue.Message) error {
		task, ok := msg.Payload.(*EmbeddingTask)
		if !ok {
			return status.Internal("embedding queue received %T", msg.Payload)
		}
		u, err := uri.Parse(task.URI)
		if err != nil {
			return err
		}
		meta, err := fs.Meta(ctx, u)
		if err != nil {
			if status.IsNotFound(err) {
				return nil
			}
			return err
		}

		text := task.VectorizeText
		if text == "" {
			text = meta.VectorizeText
		}
		if text == "" {
			if text, err = fs.Abstract(ctx, u); err != nil {
				return err
			}
		}
		if text == "" {
			return nil
		}

		vec, err := emb.Embed(ctx, text)
		if err != nil {
			return err
		}
		abstract, _ := fs.Abstract(ctx, u)
		return col.Upsert(ctx, []*vector.Record{{
			ID:          vector.RecordID(task.URI),
			URI:         task.URI,
			DenseVector: vec,
			Fields:      meta.Fields,
			ContextType: meta.ContextType,
			User:        meta.User,
			SessionID:   meta.SessionID,
			Abstract:    abstract,
			ActiveCount: meta.ActiveCount,
			CreatedAt:   meta.CreatedAt,
			UpdatedAt:   meta.UpdatedAt,
		}})
	}
}

const reindexNodeLimit = 100000

// ReindexTree schedules one embedding task per node of a subtree,
// letting the worker pull each node's stored vectorize text. Nodes
// without a meta record are skipped.
func ReindexTree(ctx context.Context, fs *vikingfs.FS, queues *queue.Manager, root uri.URI) (int, error) {
	entries, err := fs.Tree(ctx, root, vikingfs.ListOptions{Output: vikingfs.OutputOriginal, NodeLimit: reindexNodeLimit})
	if err != nil {
		return 0, err
	}
	uris := []uri.URI{root}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		u, err := uri.Parse(e.URI)
		if err != nil {
			return 0, err
		}
		uris = append(uris, u)
	}
	n := 0
	for _, u := range uris {
		if _, err := fs.Meta(ctx, u); err != nil {
			if status.IsNotFound(err) {
				continue
			}
			return n, err
		}
		if _, err := queues.Enqueue(ctx, queue.EmbeddingQueue, &EmbeddingTask{URI: u.String()}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// SemanticHandler builds the handler bound to the semantic queue. It writes
// the requested sidecars and chains an embedding task for the fresh text.
func SemanticHandler(fs *vikingfs.FS, v vlm.VLM, queues *queue.Manager) queue.Handler {
	return func(ctx context.Context, msg *queue.Message) error {
		task, ok := msg.Payload.(*SemanticTask)
		if !ok {
			return status.Internal("semantic queue received %T", msg.Payload)
		}
		u, err := uri.Parse(task.URI)
		if err != nil {
			return err
		}
		content := task.Content
		if content == "" {
			if content, err = nodeContent(ctx, fs, u); err != nil {
				if status.IsNotFound(err) {
					return nil
				}
				return err
			}
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}

		target := task.Target
		if target == "" {
			target = TargetBoth
		}
		var vectorize string
		if target == TargetAbstract || target == TargetBoth {
			abstract, err := v.Complete(ctx, vlm.Request{System: abstractSystemPrompt, Prompt: abstractPrompt(content)})
			if err != nil {
				return err
			}
			abstract = strings.TrimSpace(abstract)
			if err := fs.WriteAbstract(ctx, u, abstract); err != nil {
				return err
			}
			vectorize = abstract
		}
		if target == TargetOverview || target == TargetBoth {
			overview, err := v.Complete(ctx, vlm.Request{System: overviewSystemPrompt, Prompt: overviewPrompt(content)})
			if err != nil {
				return err
			}
			if err := fs.WriteOverview(ctx, u, strings.TrimSpace(overview)); err != nil {
				return err
			}
		}

		_, err = queues.Enqueue(ctx, queue.EmbeddingQueue, &EmbeddingTask{URI: task.URI, VectorizeText: vectorize})
		return err
	}
}

// nodeContent returns the text a semantic task summarizes: leaf content
// for leaves, the children's names and abstracts for directories.
func nodeContent(ctx context.Context, fs *vikingfs.FS, u uri.URI) (string, error) {
	meta, err := fs.Meta(ctx, u)
	if err != nil {
		return "", err
	}
	if meta.IsLeaf {
		data, err := fs.Read(ctx, u)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	entries, err := fs.Ls(ctx, u, vikingfs.ListOptions{Output: vikingfs.OutputAgent})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Name)
		if e.Abstract != "" {
			b.WriteString(": ")
			b.WriteString(e.Abstract)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
