package vikingfs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

// Relation is one edge bundle: a set of target URIs sharing a reason.
type Relation struct {
	ID        string   `json:"id"`
	URIs      []string `json:"uris"`
	Reason    string   `json:"reason,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// Relations returns the node's relation table, empty when absent.
func (fs *FS) Relations(ctx context.Context, u uri.URI) ([]Relation, error) {
	data, err := fs.backend.ReadBytes(ctx, BackendPath(u)+"/"+RelationsFile)
	if err != nil {
		if status.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rels []Relation
	if err := json.Unmarshal(data, &rels); err != nil {
		return nil, status.Internal("corrupt relations record at %s", u).WithCause(err)
	}
	return rels, nil
}

func (fs *FS) writeRelations(ctx context.Context, u uri.URI, rels []Relation) error {
	if len(rels) == 0 {
		err := fs.backend.Delete(ctx, BackendPath(u)+"/"+RelationsFile)
		if status.IsNotFound(err) {
			return nil
		}
		return err
	}
	data, err := json.MarshalIndent(rels, "", "  ")
	if err != nil {
		return status.Internal("encode relations for %s", u).WithCause(err)
	}
	return fs.backend.WriteBytes(ctx, BackendPath(u)+"/"+RelationsFile, data)
}

// Link records an edge from one node to a set of targets. The from node
// is locked for the read-modify-write.
func (fs *FS) Link(ctx context.Context, from uri.URI, to []uri.URI, reason string) error {
	if len(to) == 0 {
		return status.InvalidArgument("link requires at least one target")
	}
	targets := make([]string, 0, len(to))
	for _, t := range to {
		targets = append(targets, t.String())
	}

	tx := fs.txs.Begin(ctx, map[string]any{"op": "link", "from": from.String()})
	if err := fs.txs.AcquireNormal(ctx, tx, BackendPath(from)); err != nil {
		return err
	}
	defer func() { _ = fs.txs.Commit(ctx, tx) }()

	rels, err := fs.Relations(ctx, from)
	if err != nil {
		return err
	}
	rels = append(rels, Relation{
		ID:        uuid.NewString(),
		URIs:      targets,
		Reason:    reason,
		CreatedAt: nowMillis(),
	})
	return fs.writeRelations(ctx, from, rels)
}

// Unlink removes a target URI from every relation entry, dropping entries
// that become empty.
func (fs *FS) Unlink(ctx context.Context, from, to uri.URI) error {
	tx := fs.txs.Begin(ctx, map[string]any{"op": "unlink", "from": from.String()})
	if err := fs.txs.AcquireNormal(ctx, tx, BackendPath(from)); err != nil {
		return err
	}
	defer func() { _ = fs.txs.Commit(ctx, tx) }()

	rels, err := fs.Relations(ctx, from)
	if err != nil {
		return err
	}
	target := to.String()
	kept := rels[:0]
	for _, rel := range rels {
		uris := rel.URIs[:0]
		for _, t := range rel.URIs {
			if t != target {
				uris = append(uris, t)
			}
		}
		rel.URIs = uris
		if len(rel.URIs) > 0 {
			kept = append(kept, rel)
		}
	}
	return fs.writeRelations(ctx, from, kept)
}
