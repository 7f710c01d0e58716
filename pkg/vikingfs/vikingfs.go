// Package vikingfs is the URI-addressed context tree. Every node is a
// backend directory holding its L0/L1 sidecars, a meta record, and, for
// leaves, the content file. The tree owns physical bytes; the vector
// collection only mirrors filter-relevant metadata.
package vikingfs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openviking/openviking/pkg/lock"
	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/store"
	"github.com/openviking/openviking/pkg/uri"
)

const (
	AbstractFile  = ".abstract.md"
	OverviewFile  = ".overview.md"
	MetaFile      = ".meta.json"
	RelationsFile = ".relations.json"
)

// maxGrepFileSize caps how much of a single content file grep will scan.
const maxGrepFileSize = 10 << 20

// Meta is the persisted per-node record. Content lives in the file named
// by ContentFile; abstract and overview live in their own sidecars.
type Meta struct {
	URI         string `json:"uri"`
	IsLeaf      bool   `json:"is_leaf"`
	ContextType string `json:"context_type"`
	Category    string `json:"category,omitempty"`
	ContentFile string `json:"content_file,omitempty"`
	// CreatedAt and UpdatedAt are unix milliseconds.
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
	ActiveCount   int64          `json:"active_count"`
	SessionID     string         `json:"session_id,omitempty"`
	User          string         `json:"user,omitempty"`
	VectorizeText string         `json:"vectorize_text,omitempty"`
	Fields        map[string]any `json:"meta,omitempty"`
}

// Index mirrors tree mutations into a derived store. The tree commits
// first; index maintenance runs after and its failure surfaces to the
// caller while the tree change stands.
type Index interface {
	// DeleteSubtree drops the records for a URI and all its descendants.
	DeleteSubtree(ctx context.Context, uri string) error
	// ReindexSubtree schedules fresh records for every node under root.
	ReindexSubtree(ctx context.Context, root uri.URI) error
}

// FS exposes the context tree operations. All mutating operations go
// through the transaction manager.
type FS struct {
	backend store.Backend
	txs     *lock.Manager
	index   Index
	log     *slog.Logger
}

func New(backend store.Backend, txs *lock.Manager) *FS {
	return &FS{
		backend: backend,
		txs:     txs,
		log:     logger.GetLogger("vikingfs"),
	}
}

// SetIndex wires the derived index notified by Rm and Mv.
func (fs *FS) SetIndex(idx Index) { fs.index = idx }

// Backend exposes the underlying store for layers that manage their own
// raw files, like the session message log.
func (fs *FS) Backend() store.Backend { return fs.backend }

// BackendPath maps a URI to its backend directory path.
func BackendPath(u uri.URI) string {
	if u.Path() == "" {
		return string(u.Scope())
	}
	return string(u.Scope()) + "/" + u.Path()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Meta loads a node's meta record.
func (fs *FS) Meta(ctx context.Context, u uri.URI) (*Meta, error) {
	data, err := fs.backend.ReadBytes(ctx, BackendPath(u)+"/"+MetaFile)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Internal("corrupt meta record at %s", u).WithCause(err)
	}
	return &m, nil
}

func (fs *FS) writeMeta(ctx context.Context, u uri.URI, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return status.Internal("encode meta record for %s", u).WithCause(err)
	}
	return fs.backend.WriteBytes(ctx, BackendPath(u)+"/"+MetaFile, data)
}

// WriteContextInput is the four-file bundle for one node.
type WriteContextInput struct {
	Content         []byte
	ContentFilename string
	Abstract        string
	Overview        string
	IsLeaf          bool
	Category        string
	SessionID       string
	User            string
	VectorizeText   string
	Fields          map[string]any
}

// WriteContext writes a node bundle: directory, sidecars, content file,
// and meta record. Existing meta timestamps are preserved on rewrite.
func (fs *FS) WriteContext(ctx context.Context, u uri.URI, in WriteContextInput) error {
	dir := BackendPath(u)
	if err := fs.backend.Mkdir(ctx, dir, true); err != nil {
		return err
	}

	now := nowMillis()
	meta := &Meta{
		URI:           u.String(),
		IsLeaf:        in.IsLeaf,
		ContextType:   string(uri.InferContextType(u)),
		Category:      in.Category,
		CreatedAt:     now,
		UpdatedAt:     now,
		SessionID:     in.SessionID,
		User:          in.User,
		VectorizeText: in.VectorizeText,
		Fields:        in.Fields,
	}
	if prev, err := fs.Meta(ctx, u); err == nil {
		meta.CreatedAt = prev.CreatedAt
		meta.ActiveCount = prev.ActiveCount
	}

	if in.Abstract != "" {
		if err := fs.backend.WriteBytes(ctx, dir+"/"+AbstractFile, []byte(in.Abstract)); err != nil {
			return err
		}
	}
	if in.Overview != "" {
		if err := fs.backend.WriteBytes(ctx, dir+"/"+OverviewFile, []byte(in.Overview)); err != nil {
			return err
		}
	}
	if in.IsLeaf && in.Content != nil {
		name := in.ContentFilename
		if name == "" {
			name = "content.md"
		}
		meta.ContentFile = name
		if err := fs.backend.WriteBytes(ctx, dir+"/"+name, in.Content); err != nil {
			return err
		}
	}
	return fs.writeMeta(ctx, u, meta)
}

// Read returns a node's L2 content. For nodes without a meta record the
// URI is treated as a plain file path.
func (fs *FS) Read(ctx context.Context, u uri.URI) ([]byte, error) {
	m, err := fs.Meta(ctx, u)
	if err == nil && m.ContentFile != "" {
		return fs.backend.ReadBytes(ctx, BackendPath(u)+"/"+m.ContentFile)
	}
	data, ferr := fs.backend.ReadBytes(ctx, BackendPath(u))
	if ferr == nil {
		return data, nil
	}
	if err != nil {
		return nil, ferr
	}
	return nil, status.NotFound("%s has no content", u)
}

// Abstract returns the node's L0 text, empty when absent.
func (fs *FS) Abstract(ctx context.Context, u uri.URI) (string, error) {
	return fs.readSidecar(ctx, u, AbstractFile)
}

// Overview returns the node's L1 text, empty when absent.
func (fs *FS) Overview(ctx context.Context, u uri.URI) (string, error) {
	return fs.readSidecar(ctx, u, OverviewFile)
}

func (fs *FS) readSidecar(ctx context.Context, u uri.URI, name string) (string, error) {
	data, err := fs.backend.ReadBytes(ctx, BackendPath(u)+"/"+name)
	if err != nil {
		if status.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// WriteAbstract replaces the node's L0 sidecar.
func (fs *FS) WriteAbstract(ctx context.Context, u uri.URI, text string) error {
	return fs.backend.WriteBytes(ctx, BackendPath(u)+"/"+AbstractFile, []byte(text))
}

// WriteOverview replaces the node's L1 sidecar.
func (fs *FS) WriteOverview(ctx context.Context, u uri.URI, text string) error {
	return fs.backend.WriteBytes(ctx, BackendPath(u)+"/"+OverviewFile, []byte(text))
}

// WriteFile writes a plain file at the URI, outside the node bundle
// convention.
func (fs *FS) WriteFile(ctx context.Context, u uri.URI, data []byte) error {
	return fs.backend.WriteBytes(ctx, BackendPath(u), data)
}

// Stat describes a node.
type Stat struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	IsDir       bool   `json:"is_dir"`
	Size        int64  `json:"size"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	ContextType string `json:"context_type"`
	HasAbstract bool   `json:"has_abstract"`
	HasOverview bool   `json:"has_overview"`
	ActiveCount int64  `json:"active_count"`
}

func (fs *FS) Stat(ctx context.Context, u uri.URI) (*Stat, error) {
	info, err := fs.backend.Stat(ctx, BackendPath(u))
	if err != nil {
		return nil, err
	}
	st := &Stat{
		Name:        u.Name(),
		URI:         u.String(),
		IsDir:       info.IsDir,
		Size:        info.Size,
		CreatedAt:   info.ModTime.UnixMilli(),
		UpdatedAt:   info.ModTime.UnixMilli(),
		ContextType: string(uri.InferContextType(u)),
	}
	if !info.IsDir {
		return st, nil
	}
	if m, err := fs.Meta(ctx, u); err == nil {
		st.IsDir = !m.IsLeaf
		st.CreatedAt = m.CreatedAt
		st.UpdatedAt = m.UpdatedAt
		st.ActiveCount = m.ActiveCount
		if m.ContentFile != "" {
			if ci, err := fs.backend.Stat(ctx, BackendPath(u)+"/"+m.ContentFile); err == nil {
				st.Size = ci.Size
			}
		}
	}
	dir := BackendPath(u)
	if _, err := fs.backend.Stat(ctx, dir+"/"+AbstractFile); err == nil {
		st.HasAbstract = true
	}
	if _, err := fs.backend.Stat(ctx, dir+"/"+OverviewFile); err == nil {
		st.HasOverview = true
	}
	return st, nil
}

// Touch bumps a node's active count and updated_at. Missing meta is not
// an error; plain files have no usage counter.
func (fs *FS) Touch(ctx context.Context, u uri.URI) error {
	m, err := fs.Meta(ctx, u)
	if err != nil {
		if status.IsNotFound(err) {
			return nil
		}
		return err
	}
	m.ActiveCount++
	m.UpdatedAt = nowMillis()
	return fs.writeMeta(ctx, u, m)
}

// Exists reports whether the URI resolves to anything.
func (fs *FS) Exists(ctx context.Context, u uri.URI) (bool, error) {
	_, err := fs.backend.Stat(ctx, BackendPath(u))
	if err == nil {
		return true, nil
	}
	if status.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
