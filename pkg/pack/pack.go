// Package pack implements the .ovpack archive format: a zip holding one
// exported context subtree plus a manifest. Path components beginning
// with a dot are stored as _._<rest> so extraction tools that hide
// dotfiles keep the sidecars visible.
package pack

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/openviking/openviking/pkg/logger"
	"github.com/openviking/openviking/pkg/processor"
	"github.com/openviking/openviking/pkg/queue"
	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
	"github.com/openviking/openviking/pkg/vikingfs"
)

const (
	// ManifestFile sits at the zip root, outside the tree directory.
	ManifestFile = "manifest.json"
	// FormatVersion is bumped on incompatible layout changes.
	FormatVersion = 1

	dotPrefix = "_._"
)

// Manifest describes one pack.
type Manifest struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	RootURI   string `json:"root_uri"`
	CreatedAt int64  `json:"created_at"`
	Files     int    `json:"files"`
}

// encodeComponent hides the leading dot of a path component.
func encodeComponent(c string) string {
	if strings.HasPrefix(c, ".") {
		return dotPrefix + c[1:]
	}
	return c
}

// decodeComponent reverses encodeComponent.
func decodeComponent(c string) string {
	if strings.HasPrefix(c, dotPrefix) {
		return "." + c[len(dotPrefix):]
	}
	return c
}

func encodePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = encodeComponent(parts[i])
	}
	return strings.Join(parts, "/")
}

func decodePath(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = decodeComponent(parts[i])
	}
	return strings.Join(parts, "/")
}

// Export writes the subtree at root as an .ovpack stream.
func Export(ctx context.Context, fs *vikingfs.FS, root uri.URI, w io.Writer) (*Manifest, error) {
	exists, err := fs.Exists(ctx, root)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, status.NotFound("nothing to export at %s", root)
	}

	zw := zip.NewWriter(w)
	base := root.Name()
	files := 0
	if err := exportDir(ctx, fs, vikingfs.BackendPath(root), base, zw, &files); err != nil {
		zw.Close()
		return nil, err
	}

	manifest := &Manifest{
		Version:   FormatVersion,
		Name:      base,
		RootURI:   root.String(),
		CreatedAt: time.Now().UnixMilli(),
		Files:     files,
	}
	mf, err := zw.Create(ManifestFile)
	if err != nil {
		return nil, status.Internal("write pack manifest").WithCause(err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, status.Internal("encode pack manifest").WithCause(err)
	}
	if _, err := mf.Write(data); err != nil {
		return nil, status.Internal("write pack manifest").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, status.Internal("finish pack").WithCause(err)
	}
	logger.GetLogger("pack").Info("exported pack", "root", root.String(), "files", files)
	return manifest, nil
}

func exportDir(ctx context.Context, fs *vikingfs.FS, backendPath, zipPath string, zw *zip.Writer, files *int) error {
	entries, err := fs.Backend().List(ctx, backendPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := backendPath + "/" + e.Name
		encoded := zipPath + "/" + encodeComponent(e.Name)
		if e.IsDir {
			if err := exportDir(ctx, fs, child, encoded, zw, files); err != nil {
				return err
			}
			continue
		}
		data, err := fs.Backend().ReadBytes(ctx, child)
		if err != nil {
			return err
		}
		f, err := zw.Create(encoded)
		if err != nil {
			return status.Internal("add %s to pack", encoded).WithCause(err)
		}
		if _, err := f.Write(data); err != nil {
			return status.Internal("add %s to pack", encoded).WithCause(err)
		}
		*files++
	}
	return nil
}

// ImportOptions tune one import.
type ImportOptions struct {
	// Target is the full destination URI; empty derives one from Parent
	// or falls back to resources/<pack name>.
	Target uri.URI
	// Parent is the directory the pack lands under when Target is unset.
	Parent uri.URI
	// Force overwrites an existing destination in place instead of
	// allocating a unique sibling.
	Force bool
	// Vectorize re-enqueues embeddings for every imported node.
	Vectorize bool
}

// ImportResult reports a finished import.
type ImportResult struct {
	RootURI  uri.URI `json:"root_uri"`
	Files    int     `json:"files"`
	Enqueued int     `json:"enqueued"`
}

// Import materializes a pack into the tree.
func Import(ctx context.Context, fs *vikingfs.FS, queues *queue.Manager, data []byte, opts ImportOptions) (*ImportResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, status.InvalidArgument("not a pack archive").WithCause(err)
	}

	manifest, err := readManifest(zr)
	if err != nil {
		return nil, err
	}
	if manifest.Version > FormatVersion {
		return nil, status.FailedPrecondition("pack version %d is newer than supported %d", manifest.Version, FormatVersion)
	}

	base := opts.Target
	if base.IsZero() {
		parent := opts.Parent
		if parent.IsZero() {
			parent = uri.Root(uri.ScopeResources)
		}
		base = parent.JoinSanitized(manifest.Name)
	}
	dest, err := resolveDest(ctx, fs, base, opts.Force)
	if err != nil {
		return nil, err
	}

	files := 0
	for _, f := range zr.File {
		if f.Name == ManifestFile || f.FileInfo().IsDir() {
			continue
		}
		rel, err := entryPath(f.Name, manifest.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, status.InvalidArgument("corrupt pack entry %s", f.Name).WithCause(err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, status.InvalidArgument("corrupt pack entry %s", f.Name).WithCause(err)
		}
		if err := fs.Backend().WriteBytes(ctx, vikingfs.BackendPath(dest)+"/"+rel, content); err != nil {
			return nil, err
		}
		files++
	}
	if files == 0 {
		return nil, status.InvalidArgument("pack holds no tree entries")
	}

	if err := fs.RewriteMetaURIs(ctx, dest); err != nil {
		return nil, err
	}

	res := &ImportResult{RootURI: dest, Files: files}
	if opts.Vectorize {
		n, err := processor.ReindexTree(ctx, fs, queues, dest)
		if err != nil {
			return nil, err
		}
		res.Enqueued = n
	}
	logger.GetLogger("pack").Info("imported pack",
		"root", dest.String(), "files", files, "vectorize", opts.Vectorize)
	return res, nil
}

func readManifest(zr *zip.Reader) (*Manifest, error) {
	for _, f := range zr.File {
		if f.Name != ManifestFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, status.InvalidArgument("corrupt pack manifest").WithCause(err)
		}
		defer rc.Close()
		var m Manifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return nil, status.InvalidArgument("corrupt pack manifest").WithCause(err)
		}
		if m.Name == "" {
			return nil, status.InvalidArgument("pack manifest has no name")
		}
		return &m, nil
	}
	return nil, status.InvalidArgument("pack has no %s", ManifestFile)
}

func resolveDest(ctx context.Context, fs *vikingfs.FS, base uri.URI, force bool) (uri.URI, error) {
	exists, err := fs.Exists(ctx, base)
	if err != nil {
		return uri.URI{}, err
	}
	if !exists {
		return base, nil
	}
	if force {
		if err := fs.Rm(ctx, base, true); err != nil {
			return uri.URI{}, err
		}
		return base, nil
	}
	return fs.ResolveUniqueURI(ctx, base)
}

// entryPath validates one zip entry and returns its decoded path
// relative to the pack's tree directory.
func entryPath(name, packName string) (string, error) {
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return "", status.InvalidArgument("pack entry escapes archive root: %s", name)
	}
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 || decodeComponent(parts[0]) != packName {
		return "", status.InvalidArgument("pack entry %s is outside tree directory %s", name, packName)
	}
	return decodePath(parts[1]), nil
}

